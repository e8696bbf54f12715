// Command simulate is a smoke-test tool that exercises the admin HTTP API
// end to end: log in, provision a batch of bridges, watch the live feed
// report their creation, toggle and delete them, then tear down.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	baseURL   = flag.String("base-url", "http://localhost:8080", "janusbridge admin API base URL")
	wsURL     = flag.String("ws-url", "ws://localhost:8080/ws", "janusbridge live feed URL")
	username  = flag.String("username", "admin", "admin username")
	password  = flag.String("password", "changeme", "admin password")
	bridgeCnt = flag.Int("bridges", 20, "number of bridges to provision concurrently")
)

type loginResponse struct {
	Token string `json:"token"`
}

type bridgeResponse struct {
	ID string `json:"id"`
}

func main() {
	flag.Parse()
	log.Printf("simulate: authenticating against %s", *baseURL)

	token, err := login(*username, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	stopFeed := watchFeed(token)
	defer stopFeed()

	var wg sync.WaitGroup
	ids := make([]string, *bridgeCnt)
	for i := 0; i < *bridgeCnt; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := runOne(token, n)
			if err != nil {
				log.Printf("bridge %d: %v", n, err)
				return
			}
			ids[n] = id
		}(i)
	}
	wg.Wait()

	created := 0
	for _, id := range ids {
		if id != "" {
			created++
		}
	}
	log.Printf("simulate: provisioned %d/%d bridges", created, *bridgeCnt)

	time.Sleep(500 * time.Millisecond)
	for i, id := range ids {
		if id == "" {
			continue
		}
		if err := deleteBridge(token, id); err != nil {
			log.Printf("bridge %d: cleanup failed: %v", i, err)
		}
	}
	log.Println("simulate: cleanup complete")
}

// runOne provisions one bridge and immediately toggles it off and back on,
// exercising the create/toggle round trip a real operator would perform.
func runOne(token string, n int) (string, error) {
	bp, err := createBridge(token, fmt.Sprintf("sim-a-%d", n), fmt.Sprintf("sim-b-%d", n))
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	if err := toggleBridge(token, bp.ID, false); err != nil {
		return bp.ID, fmt.Errorf("toggle off: %w", err)
	}
	if err := toggleBridge(token, bp.ID, true); err != nil {
		return bp.ID, fmt.Errorf("toggle on: %w", err)
	}
	return bp.ID, nil
}

func login(username, password string) (string, error) {
	resp, err := postJSON("/login", "", map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var data loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	return data.Token, nil
}

func createBridge(token, aChannel, bChannel string) (bridgeResponse, error) {
	resp, err := postJSON("/bridges", token, map[string]string{"aChannelId": aChannel, "bChannelId": bChannel})
	if err != nil {
		return bridgeResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return bridgeResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var bp bridgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&bp); err != nil {
		return bridgeResponse{}, err
	}
	return bp, nil
}

func toggleBridge(token, id string, active bool) error {
	resp, err := postJSON("/bridges/"+id+"/toggle", token, map[string]bool{"active": active})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func deleteBridge(token, id string) error {
	req, err := http.NewRequest(http.MethodDelete, *baseURL+"/bridges/"+id, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func postJSON(path, token string, body interface{}) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, *baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}

// watchFeed connects to the live feed and logs every bridge lifecycle
// event until the returned stop function is called.
func watchFeed(token string) (stop func()) {
	conn, _, err := websocket.DefaultDialer.Dial(*wsURL+"?token="+token, nil)
	if err != nil {
		log.Printf("simulate: live feed connect failed: %v", err)
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			log.Printf("feed: %s", msg)
		}
	}()
	return func() {
		conn.Close()
		<-done
	}
}
