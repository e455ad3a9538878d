package main

import (
	"log"

	"github.com/lkarlslund/relaytap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
