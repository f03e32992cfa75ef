package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/zeromq/whorl"
)

var (
	group   = flag.String("group", "*", "The group we are going to join. By default joins every group in the network. For multiple groups separate groups with comma.")
	verbose = flag.Bool("verbose", true, "Set verbose flag")
)

func monitor() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	node, err := whorl.New()
	if err != nil {
		log.Fatalln(err)
	}
	defer node.Stop()

	if *verbose {
		node.SetVerbose()
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	err = node.Start()
	if err != nil {
		log.Fatalln(err)
	}

	if *group != "*" {
		for _, g := range strings.Split(*group, ",") {
			node.Join(strings.TrimSpace(g))
		}
	}

	for {
		select {
		case e := <-node.Events():
			switch e.Type() {
			case whorl.EventEnter:
				log.Printf("[%s] peer %q entered from %s\n", node.Name(), e.Name(), e.Addr())

			case whorl.EventExit:
				log.Printf("[%s] peer %q exited\n", node.Name(), e.Name())

			case whorl.EventEvasive:
				log.Printf("[%s] peer %q is being evasive\n", node.Name(), e.Name())

			case whorl.EventJoin:
				log.Printf("[%s] peer %q joined %s\n", node.Name(), e.Name(), e.Group())
				if *group == "*" {
					node.Join(e.Group())
				}

			case whorl.EventLeave:
				log.Printf("[%s] peer %q left %s\n", node.Name(), e.Name(), e.Group())

			case whorl.EventWhisper:
				log.Printf("[%s] received a WHISPER from %q: %s\n", node.Name(), e.Name(), e.Msg())

			case whorl.EventShout:
				log.Printf("[%s] received a SHOUT from %q in %s: %s\n", node.Name(), e.Name(), e.Group(), e.Msg())

			case whorl.EventStop:
				log.Printf("[%s] node stopped\n", node.Name())
				return
			}

		case <-c:
			return
		}
	}
}

func main() {
	flag.Parse()
	monitor()
}
