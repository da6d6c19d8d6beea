package main

import (
	"log"

	"marginflow/services/orderflow"
)

func main() {
	if err := orderflow.Main(); err != nil {
		log.Fatalf("orderflowd: %v", err)
	}
}
