package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/wfunc/chatserver/network"
)

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, network.EncodePacket(msgID, data))
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	userID := flag.Int64("user", 1, "user id")
	name := flag.String("name", "guest", "display name")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.DecodePacket(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			log.Printf("<- [%d] %s", packet.MsgID, string(packet.Data))
		}
	}()

	if err := send(c, network.MsgTypeHello, map[string]interface{}{"user_id": *userID, "name": *name}); err != nil {
		log.Fatalf("Hello failed: %v", err)
	}

	// Command loop: create | join <room> | say <text> | chest <total> <winners> | claim <chest> | voice on|off
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) == 0 {
				continue
			}
			var err error
			switch fields[0] {
			case "create":
				err = send(c, network.MsgTypeCreateRoom, map[string]interface{}{"name": *name + "'s room"})
			case "join":
				if len(fields) == 2 {
					err = send(c, network.MsgTypeJoinRoom, map[string]string{"room_id": fields[1]})
				}
			case "say":
				err = send(c, network.MsgTypeChatMessage, map[string]string{"body": strings.Join(fields[1:], " ")})
			case "chest":
				if len(fields) == 3 {
					total, _ := strconv.ParseInt(fields[1], 10, 64)
					winners, _ := strconv.Atoi(fields[2])
					err = send(c, network.MsgTypeCreateChest, map[string]interface{}{"total_diamonds": total, "max_winners": winners})
				}
			case "claim":
				if len(fields) == 2 {
					err = send(c, network.MsgTypeClaimChest, map[string]string{"chest_id": fields[1]})
				}
			case "voice":
				err = send(c, network.MsgTypeVoicePresence, map[string]bool{"present": len(fields) == 2 && fields[1] == "on"})
			default:
				log.Printf("Unknown command: %s", fields[0])
			}
			if err != nil {
				log.Printf("Send failed: %v", err)
			}
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("Interrupted, closing connection")
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}
