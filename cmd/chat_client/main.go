package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	chatdomain "community_chat_service/internal/chat/domain"
	"community_chat_service/internal/notification/client"
	"community_chat_service/internal/notification/domain"

	"github.com/gorilla/websocket"
)

// 通知 client: 連上 /notifications/events, 已讀與提示音狀態只存在本機
func main() {
	serverAddr := flag.String("addr", "localhost:8080", "chat service address")
	jwt := flag.String("token", os.Getenv("CHAT_TOKEN"), "jwt token")
	statePath := flag.String("state", "./.chat_client/inbox.json", "local read state file")
	flag.Parse()

	if *jwt == "" {
		log.Fatal("missing -token")
	}

	inbox, err := client.LoadInbox(*statePath)
	if err != nil {
		log.Fatalf("load inbox: %v", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	quit := make(chan struct{})
	go readCommands(inbox, quit)

	for {
		done := make(chan struct{})
		conn, err := dial(*serverAddr, *jwt, inbox.LastSeenID())
		if err != nil {
			log.Println("dial:", err)
		} else {
			go func() {
				defer close(done)
				readLoop(conn, inbox)
			}()
		}

		select {
		case <-interrupt:
			closeConn(conn, done)
			return
		case <-quit:
			closeConn(conn, done)
			return
		case <-done:
			// 斷線後用 last seen id 重連補送
			time.Sleep(2 * time.Second)
		case <-waitIfNil(conn):
			time.Sleep(2 * time.Second)
		}
	}
}

func dial(addr, jwt string, lastSeen uint64) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/notifications/events"}
	q := u.Query()
	q.Set("sinceId", strconv.FormatUint(lastSeen, 10))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Add("Authorization", "Bearer "+jwt)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, err
	}
	log.Printf("connected to %s", u.String())
	return conn, nil
}

func readLoop(conn *websocket.Conn, inbox *client.Inbox) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			return
		}

		var resp struct {
			chatdomain.WSResponse
			Payload struct {
				Notification *domain.Notification `json:"notification"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			log.Printf("received raw: %s", raw)
			continue
		}
		if resp.Error != "" {
			log.Printf("server error: %s", resp.Error)
			continue
		}
		if resp.Payload.Notification == nil {
			continue
		}

		alert, ok := inbox.Receive(*resp.Payload.Notification)
		if !ok {
			continue
		}
		if alert.Sound {
			fmt.Print("\a")
		}
		if alert.Popup {
			n := alert.Notification
			fmt.Printf("\r[#%d %s] %s: %s\n> ", n.ID, n.Type, n.Title, n.Body)
		}
		if err := inbox.Save(); err != nil {
			log.Println("save inbox:", err)
		}
	}
}

// readCommands /read <id>, /readall, /unread, /sound on|off, /quit
func readCommands(inbox *client.Inbox, quit chan struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}

		switch fields[0] {
		case "/quit":
			close(quit)
			return
		case "/read":
			if len(fields) < 2 {
				fmt.Println("usage: /read <id>")
				break
			}
			id, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				fmt.Println("invalid id")
				break
			}
			inbox.MarkRead(id)
		case "/readall":
			inbox.MarkAllRead()
		case "/unread":
			for _, n := range inbox.Unread() {
				fmt.Printf("[#%d %s] %s\n", n.ID, n.Type, n.Title)
			}
		case "/sound":
			inbox.SetSound(len(fields) < 2 || fields[1] != "off")
			fmt.Printf("sound: %v\n", inbox.SoundEnabled())
		default:
			fmt.Println("commands: /read <id> /readall /unread /sound on|off /quit")
		}

		if err := inbox.Save(); err != nil {
			log.Println("save inbox:", err)
		}
		fmt.Print("> ")
	}
}

func closeConn(conn *websocket.Conn, done chan struct{}) {
	if conn == nil {
		return
	}
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		log.Println("write close:", err)
		conn.Close()
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	conn.Close()
}

// waitIfNil dial 失敗時立即觸發重試
func waitIfNil(conn *websocket.Conn) <-chan struct{} {
	if conn != nil {
		return nil
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}
