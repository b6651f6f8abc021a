package main

import (
	"log"

	"github.com/patric-chuzhbe/tasktracker/internal/app"
)

func main() {
	theApp, err := app.New()
	if err != nil {
		log.Fatal(err)
	}
	defer theApp.Close()

	if err := theApp.Run(); err != nil {
		theApp.Close()
		log.Fatal(err)
	}
}
