// Command ws_chat is a terminal client for poking a running roomcast server:
// it joins a room, prints history, presence and live messages, and sends
// whatever you type.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	transporthttp "github.com/vovakirdan/roomcast/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080", "server base address")
	room := flag.String("room", "general", "room to join")
	token := flag.String("token", "", "bearer token for an authenticated session")
	clientID := flag.String("client-id", "ws-chat-cli", "stable device id for the durable guest identity")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	url := strings.TrimRight(*addr, "/") + "/ws/rooms/" + *room
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	init := transporthttp.Inbound{
		Type:     transporthttp.InboundInit,
		Token:    *token,
		ClientID: *clientID,
	}
	if err := wsjson.Write(ctx, conn, init); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	fmt.Printf("Connected to %s\n", url)
	fmt.Println("Type messages and press Enter to send. /kick <id> to kick. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var out transporthttp.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			if ctx.Err() == nil {
				log.Printf("read: %v", err)
			}
			return
		}

		switch out.Type {
		case transporthttp.OutboundJoined:
			fmt.Printf("-- joined %s --\n", out.Room.Name)
			if out.Identity != nil {
				fmt.Printf("-- you are %s --\n", out.Identity.AnonymousName)
			}
			for _, m := range out.Messages {
				fmt.Printf("[%s] %s: %s\n", m.CreatedAt, m.DisplayName, m.Content)
			}
		case transporthttp.OutboundMessage:
			fmt.Printf("[%s] %s: %s\n", out.Message.CreatedAt, out.Message.DisplayName, out.Message.Content)
		case transporthttp.OutboundPresence:
			names := make([]string, 0, len(out.Users))
			for _, u := range out.Users {
				name := u.Name
				if u.IsAdmin {
					name += "*"
				}
				names = append(names, fmt.Sprintf("%s (%s)", name, u.ID))
			}
			fmt.Printf("-- here: %s --\n", strings.Join(names, ", "))
		case transporthttp.OutboundKicked:
			fmt.Println("-- you were kicked --")
			return
		case transporthttp.OutboundError:
			fmt.Printf("-- error: %s --\n", out.Error)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var inbound transporthttp.Inbound
		if target, ok := strings.CutPrefix(line, "/kick "); ok {
			inbound = transporthttp.Inbound{Type: transporthttp.InboundKick, TargetID: strings.TrimSpace(target)}
		} else {
			inbound = transporthttp.Inbound{Type: transporthttp.InboundMessage, Content: line}
		}

		if err := wsjson.Write(ctx, conn, inbound); err != nil {
			if ctx.Err() == nil {
				log.Printf("send: %v", err)
			}
			return
		}
	}
}
