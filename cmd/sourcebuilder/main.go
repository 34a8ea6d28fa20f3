package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

var (
	apiUrl = flag.String("api", "http://localhost:8080", "Dashboard base url")
	apiKey = flag.String("key", os.Getenv("WOOF_API_KEY"), "Admin api key")
)

const help = `commands:
  peek <url>      fetch a url and list its tokens
  select <i>      choose token i, or drop it when already selected
  name <label>    name the chosen token
  conv <id>       set the conversion of the chosen token
  add             add the chosen token as a field
  cancel          drop the chosen token
  remove <i>      remove the field on token i
  show            list tokens and fields
  create <name>   create a source from the fields
  edit <id>       load a stored source
  update [name]   save the loaded source
  quit`

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newSession(newAdminClient(*apiUrl, *apiKey), os.Stdout)
	fmt.Println(help)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		err := s.Run(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("failed to read input: %v", err)
	}
}
