package main

import (
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/zeromq/whorl"
)

var (
	group = flag.String("group", "GLOBAL", "The group we are going to join")
)

func ping() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	node, err := whorl.New()
	if err != nil {
		log.Fatalln(err)
	}
	defer node.Stop()

	err = node.Start()
	if err != nil {
		log.Fatalln(err)
	}
	node.Join(*group)

	for {
		select {
		case e := <-node.Events():
			switch e.Type() {
			case whorl.EventEnter:
				log.Printf("[%s] peer %q entered\n", node.Name(), e.Name())
				node.Whisper(e.Sender(), []byte("Hello"))
			case whorl.EventExit:
				log.Printf("[%s] peer %q exited\n", node.Name(), e.Name())
			case whorl.EventWhisper:
				log.Printf("[%s] received ping (WHISPER) from %q\n", node.Name(), e.Name())
				node.Shout(*group, []byte("Hello"))
			case whorl.EventShout:
				log.Printf("[%s] (%s) received a ping (SHOUT) from %q\n", node.Name(), e.Group(), e.Name())
			}
		case <-c:
			return
		}
	}
}

func main() {
	flag.Parse()

	ping()
}
