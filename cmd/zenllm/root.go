package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/koenvaneijk/zenllm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "zenllm [prompt...]",
	Short: "Chat with LLMs across providers",
	Long: "zenllm talks to OpenAI-compatible, Anthropic, and Gemini models through a\n" +
		"single interface with automatic retry and provider fallback. With a prompt\n" +
		"argument (or piped stdin) it answers once and exits; on a terminal with no\n" +
		"prompt it starts an interactive chat.",
	Args:          cobra.ArbitraryArgs,
	RunE:          runRoot,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	f := rootCmd.Flags()
	f.StringP("model", "m", "", "Model to use (default: ZENLLM_DEFAULT_MODEL)")
	f.String("provider", "", "Provider override (auto-detected from model if empty)")
	f.String("base-url", "", "OpenAI-compatible base URL (e.g. a local model server)")
	f.String("api-key", "", "API key override")
	f.StringP("system", "s", "", "System prompt")
	f.StringSliceP("image", "i", nil, "Attach an image file (repeatable)")
	f.Bool("no-stream", false, "Wait for the full response instead of streaming")
	f.Float64("temperature", 0, "Sampling temperature")
	f.Float64("top-p", 0, "Nucleus sampling probability")
	f.Int("max-tokens", 0, "Maximum output tokens")
	f.Bool("show-usage", false, "Print token usage after the response")
	f.Bool("show-cost", false, "Print estimated cost after the response")
	f.BoolP("once", "q", false, "Answer a single prompt and exit, never start a chat")

	_ = viper.BindPFlag("model", f.Lookup("model"))
	_ = viper.BindPFlag("provider", f.Lookup("provider"))
	_ = viper.BindPFlag("base_url", f.Lookup("base-url"))
}

func initConfig() {
	viper.SetEnvPrefix("ZENLLM")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// callOptions are the per-invocation knobs shared by one-shot and chat modes.
type callOptions struct {
	model       string
	provider    string
	baseURL     string
	apiKey      string
	system      string
	images      []string
	noStream    bool
	temperature *float64
	topP        *float64
	maxTokens   *int
	showUsage   bool
	showCost    bool
}

func optionsFromFlags(cmd *cobra.Command) callOptions {
	f := cmd.Flags()
	opts := callOptions{
		model:    viper.GetString("model"),
		provider: viper.GetString("provider"),
		baseURL:  viper.GetString("base_url"),
	}
	opts.apiKey, _ = f.GetString("api-key")
	opts.system, _ = f.GetString("system")
	opts.images, _ = f.GetStringSlice("image")
	opts.noStream, _ = f.GetBool("no-stream")
	opts.showUsage, _ = f.GetBool("show-usage")
	opts.showCost, _ = f.GetBool("show-cost")

	if f.Changed("temperature") {
		v, _ := f.GetFloat64("temperature")
		opts.temperature = &v
	}
	if f.Changed("top-p") {
		v, _ := f.GetFloat64("top-p")
		opts.topP = &v
	}
	if f.Changed("max-tokens") {
		v, _ := f.GetInt("max-tokens")
		opts.maxTokens = &v
	}
	return opts
}

func runRoot(cmd *cobra.Command, args []string) error {
	opts := optionsFromFlags(cmd)
	once, _ := cmd.Flags().GetBool("once")

	prompt := strings.TrimSpace(strings.Join(args, " "))
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	if prompt == "" && !interactive {
		// Piped input becomes the prompt.
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}

	if prompt == "" {
		if once || !interactive {
			return fmt.Errorf("a prompt is required")
		}
		return runChat(cmd.Context(), opts)
	}
	return askOnce(cmd.Context(), opts, prompt)
}

// askOnce answers a single prompt and exits.
func askOnce(ctx context.Context, opts callOptions, prompt string) error {
	images, err := loadImages(opts.images)
	if err != nil {
		return err
	}

	gen := zenllm.GenerateOptions{
		Model:       opts.model,
		Provider:    opts.provider,
		BaseURL:     opts.baseURL,
		APIKey:      opts.apiKey,
		Prompt:      prompt,
		Images:      images,
		System:      opts.system,
		Temperature: opts.temperature,
		TopP:        opts.topP,
		MaxTokens:   opts.maxTokens,
	}

	client := zenllm.NewClient()

	if opts.noStream {
		resp, err := client.Generate(ctx, gen)
		if err != nil {
			return err
		}
		fmt.Println(resp.Text())
		saveImages(resp.Images())
		printFooter(opts, resp)
		return nil
	}

	stream, err := client.GenerateStream(ctx, gen)
	if err != nil {
		return err
	}
	resp, err := drainStream(stream)
	if err != nil {
		return err
	}
	printFooter(opts, resp)
	return nil
}

// drainStream prints stream events as they arrive and finalizes. A partial
// response is still finalized and returned alongside the stream error.
func drainStream(stream *zenllm.ResponseStream) (*zenllm.Response, error) {
	var streamErr error
	imageN := 0
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		switch ev.Kind {
		case zenllm.EventText:
			fmt.Print(ev.Text)
		case zenllm.EventImage:
			imageN++
			if path := saveImage(ev.Image, imageN); path != "" {
				fmt.Printf("\n[image saved to %s]\n", path)
			}
		}
	}
	fmt.Println()

	resp, err := stream.Finalize()
	if err != nil {
		if streamErr != nil {
			return nil, streamErr
		}
		return nil, err
	}
	if streamErr != nil {
		fmt.Fprintf(os.Stderr, "\n[stream interrupted: %v]\n", streamErr)
	}
	return resp, nil
}

func printFooter(opts callOptions, resp *zenllm.Response) {
	if resp == nil {
		return
	}
	if opts.showUsage {
		u := resp.Usage
		approx := ""
		if u.Estimated {
			approx = " (approximate)"
		}
		fmt.Fprintf(os.Stderr, "[usage] input=%d output=%d total=%d%s\n",
			u.InputTokens, u.OutputTokens, u.TotalTokens, approx)
	}
	if opts.showCost {
		if cost := resp.Cost(); cost != nil && cost.Total != nil {
			approx := ""
			if cost.Approximate {
				approx = " (approximate)"
			}
			fmt.Fprintf(os.Stderr, "[cost] $%.6f%s\n", *cost.Total, approx)
		} else {
			fmt.Fprintf(os.Stderr, "[cost] no pricing known for %s\n", resp.Model)
		}
	}
}

func loadImages(paths []string) ([]zenllm.ContentPart, error) {
	var parts []zenllm.ContentPart
	for _, path := range paths {
		part, err := zenllm.ImageFile(path)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// saveImage writes a generated image next to the working directory and
// returns its path.
func saveImage(img *zenllm.ImageData, n int) string {
	if img == nil || len(img.Data) == 0 {
		return ""
	}
	ext := "png"
	if i := strings.LastIndex(img.MediaType, "/"); i >= 0 && i < len(img.MediaType)-1 {
		ext = img.MediaType[i+1:]
	}
	path := fmt.Sprintf("zenllm-image-%d.%s", n, ext)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "[failed to save image: %v]\n", err)
		return ""
	}
	return path
}

func saveImages(images []zenllm.ImageData) {
	for i := range images {
		if path := saveImage(&images[i], i+1); path != "" {
			fmt.Printf("[image saved to %s]\n", path)
		}
	}
}
