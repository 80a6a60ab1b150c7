package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	relay "github.com/TheAlpha16/relay-go"
)

func main() {
	// Create a controller that dials WebSocket addresses
	ctrl := relay.NewWithWebSocket(relay.WithDebounce(500 * time.Millisecond))
	defer ctrl.Dispose()

	// Print whatever the server sends back
	ctrl.OnMessage(func(payload any) {
		data, _ := json.Marshal(payload)
		fmt.Printf("received: %s\n", data)
	})

	if err := ctrl.SetTarget("wss://echo.websocket.org/"); err != nil {
		log.Fatalf("Failed to set target: %v", err)
	}

	// Sent as soon as the connection opens, in this order
	for _, msg := range []map[string]int{{"a": 1}, {"b": 2}} {
		if err := ctrl.Send(msg); err != nil {
			log.Fatalf("Failed to send %v: %v", msg, err)
		}
	}

	time.Sleep(2 * time.Second)
	fmt.Printf("state: %s, pending: %d\n", ctrl.State(), ctrl.Pending())

	// Rapid changes collapse into a single switch
	for _, target := range []string{"wss://ws.postman-echo.com/raw", "wss://echo.websocket.org/"} {
		if err := ctrl.SetTarget(target); err != nil {
			log.Fatalf("Failed to switch target to %s: %v", target, err)
		}
	}

	time.Sleep(time.Second)
	fmt.Println("Quick start example completed!")
}
