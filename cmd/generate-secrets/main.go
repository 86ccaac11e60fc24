package main

import (
	"fmt"
	"log"

	"github.com/pedalport/rental-backend/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for PedalPort")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, err := utils.GenerateSecret(32) // 256-bit
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Println()
	fmt.Println("Gateway secrets (ESEWA_SECRET_KEY, KHALTI_SECRET_KEY) are issued")
	fmt.Println("by the providers and cannot be generated here.")
	fmt.Println("===========================================")
}
