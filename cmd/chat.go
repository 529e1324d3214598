package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/icotes/agenthub/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var (
		addr      string
		agentType string
		message   string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running gateway from the terminal",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(addr, agentType, message)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8765", "gateway address")
	cmd.Flags().StringVar(&agentType, "agent", "", "agent type (custom-<template> routes to a template)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	return cmd
}

func runChat(addr, agentType, message string) {
	ctx := context.Background()
	wsURL := fmt.Sprintf("ws://%s/ws", addr)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", wsURL, err)
		os.Exit(1)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	// The gateway greets with config and agent_status.
	agentName := waitForAgentStatus(ctx, conn)

	if message != "" {
		if err := chatTurn(ctx, conn, agentType, message); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "agenthub chat (agent: %s)\n", agentName)
	fmt.Fprintln(os.Stderr, "Type \"exit\" to quit")
	fmt.Fprintln(os.Stderr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return
		}
		if err := chatTurn(ctx, conn, agentType, input); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
			continue
		}
		fmt.Println()
	}
}

// waitForAgentStatus drains the welcome frames and returns the agent name.
func waitForAgentStatus(ctx context.Context, conn *websocket.Conn) string {
	for i := 0; i < 4; i++ {
		f, err := readServerFrame(ctx, conn)
		if err != nil {
			return "unknown"
		}
		if f["type"] == protocol.FrameAgentStatus {
			if ag, ok := f["agent"].(map[string]interface{}); ok {
				if name, ok := ag["name"].(string); ok && name != "" {
					return name
				}
			}
			return "unknown"
		}
	}
	return "unknown"
}

// chatTurn sends one message and prints the streamed reply until stream_end.
func chatTurn(ctx context.Context, conn *websocket.Conn, agentType, content string) error {
	out, _ := json.Marshal(map[string]interface{}{
		"type":    protocol.FrameMessage,
		"content": content,
		"metadata": map[string]interface{}{
			"agent_type": agentType,
		},
	})
	if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		f, err := readServerFrame(ctx, conn)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch f["type"] {
		case protocol.FrameMessageStream:
			switch f["phase"] {
			case protocol.StreamChunk:
				if chunk, ok := f["chunk"].(string); ok {
					fmt.Print(chunk)
				}
			case protocol.StreamEnd:
				fmt.Println()
				return nil
			}
		case protocol.FrameError:
			msg, _ := f["message"].(string)
			return fmt.Errorf("gateway error: %s", msg)
		}
	}
}

func readServerFrame(ctx context.Context, conn *websocket.Conn) (map[string]interface{}, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var f map[string]interface{}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}
