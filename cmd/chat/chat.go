package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/zeromq/whorl"
)

var (
	input = make(chan string)
	name  = flag.String("name", "Whorlman", "Your name or nick name in the chat session")
)

func chat() {
	node, err := whorl.New()
	if err != nil {
		log.Fatalln(err)
	}
	defer node.Stop()

	node.SetName(*name)

	err = node.Start()
	if err != nil {
		log.Fatalln(err)
	}
	node.Join("CHAT")

	for {
		select {
		case e := <-node.Events():
			switch e.Type() {
			case whorl.EventShout:
				fmt.Printf("%c[2K\r%s> %s\n%s> ", 27, e.Name(), e.Msg(), *name)
			}
		case msg := <-input:
			node.Shouts("CHAT", "%s", msg)
		}
	}
}

func main() {
	flag.Parse()

	go chat()

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s> ", *name)
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		input <- line[:len(line)-1]
	}
}
