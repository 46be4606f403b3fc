package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/koenvaneijk/zenllm"
)

// chatSession holds the state of one interactive conversation.
type chatSession struct {
	client  *zenllm.Client
	opts    callOptions
	history []zenllm.Message
	pending []zenllm.ContentPart
}

// runChat starts the interactive loop. Commands begin with a slash;
// everything else is sent to the model.
func runChat(ctx context.Context, opts callOptions) error {
	session := &chatSession{
		client: zenllm.NewClient(),
		opts:   opts,
	}

	model := opts.model
	if model == "" {
		model = zenllm.DefaultModel()
	}
	fmt.Printf("zenllm chat (%s). Type /help for commands, /exit to quit.\n", model)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := session.command(line); quit {
				return nil
			}
			continue
		}

		if err := session.send(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

// command handles a slash command and reports whether to quit.
func (s *chatSession) command(line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/exit", "/quit":
		return true
	case "/help":
		fmt.Print(`Commands:
  /help            Show this help
  /exit, /quit     Leave the chat
  /reset           Clear the conversation history
  /system <text>   Set the system prompt (empty to clear)
  /model <model>   Switch models
  /img <path>      Attach an image to the next message
`)
	case "/reset":
		s.history = nil
		s.pending = nil
		fmt.Println("Conversation cleared.")
	case "/system":
		s.opts.system = arg
		if arg == "" {
			fmt.Println("System prompt cleared.")
		} else {
			fmt.Println("System prompt set.")
		}
	case "/model":
		if arg == "" {
			model := s.opts.model
			if model == "" {
				model = zenllm.DefaultModel()
			}
			fmt.Printf("Current model: %s\n", model)
		} else {
			s.opts.model = arg
			fmt.Printf("Switched to %s.\n", arg)
		}
	case "/img":
		if arg == "" {
			fmt.Println("Usage: /img <path>")
			break
		}
		part, err := zenllm.ImageFile(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		s.pending = append(s.pending, part)
		fmt.Printf("Attached %s (sent with your next message).\n", arg)
	default:
		fmt.Printf("Unknown command %s. Type /help for commands.\n", cmd)
	}
	return false
}

// send adds a user turn, runs the call, and records the assistant's reply.
// On failure the user turn is rolled back so a retry does not duplicate it.
func (s *chatSession) send(ctx context.Context, text string) error {
	parts := []zenllm.ContentPart{zenllm.Text(text)}
	parts = append(parts, s.pending...)
	s.pending = nil
	s.history = append(s.history, zenllm.UserParts(parts...))

	chat := zenllm.ChatOptions{
		Model:       s.opts.model,
		Provider:    s.opts.provider,
		BaseURL:     s.opts.baseURL,
		APIKey:      s.opts.apiKey,
		System:      s.opts.system,
		Temperature: s.opts.temperature,
		TopP:        s.opts.topP,
		MaxTokens:   s.opts.maxTokens,
	}

	var resp *zenllm.Response
	var err error
	if s.opts.noStream {
		resp, err = s.client.Chat(ctx, s.history, chat)
		if err == nil {
			fmt.Println(resp.Text())
			saveImages(resp.Images())
		}
	} else {
		var stream *zenllm.ResponseStream
		stream, err = s.client.ChatStream(ctx, s.history, chat)
		if err == nil {
			resp, err = drainStream(stream)
		}
	}
	if err != nil {
		s.history = s.history[:len(s.history)-1]
		return err
	}

	s.history = append(s.history, resp.Message)
	printFooter(s.opts, resp)
	return nil
}
