package main

import (
	"log"
	"os"
	sys "os"
)

func main() {
	defer log.Println("cleanup")

	if len(os.Args) > 3 {
		os.Exit(2) // want "avoid using os.Exit in main.main"
	}
	if len(os.Args) > 2 {
		sys.Exit(1) // want "avoid using os.Exit in main.main"
	}
	log.Fatal("allowed in package main")
}

func helper() {
	os.Exit(1)
}
