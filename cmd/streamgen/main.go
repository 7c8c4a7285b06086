// streamgen serves an endless newline-delimited stream of random integers
// over TCP, the source a sketch run dials into.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	min := flag.Int64("min", 0, "smallest item value (inclusive)")
	max := flag.Int64("max", 9999, "largest item value (inclusive)")
	seed := flag.Int64("seed", 42, "generator seed, one stream per connection")
	flag.Parse()

	if *min > *max {
		log.Fatalf("empty item range [%d,%d]", *min, *max)
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen %s: %v", *addr, err)
	}
	log.Printf("streaming random items in [%d,%d] on %s", *min, *max, ln.Addr())

	for connSeed := *seed; ; connSeed++ {
		conn, err := ln.Accept()
		if err != nil {
			log.Fatalf("accept: %v", err)
		}
		log.Printf("client %s connected", conn.RemoteAddr())
		go serve(conn, *min, *max, connSeed)
	}
}

// serve writes items until the client hangs up.
func serve(conn net.Conn, min, max, seed int64) {
	defer conn.Close()
	rng := rand.New(rand.NewSource(seed))
	w := bufio.NewWriter(conn)
	span := max - min + 1
	var sent uint64
	for {
		if _, err := fmt.Fprintln(w, min+rng.Int63n(span)); err != nil {
			break
		}
		sent++
		if sent%4096 == 0 {
			if err := w.Flush(); err != nil {
				break
			}
		}
	}
	log.Printf("client %s disconnected after %d items", conn.RemoteAddr(), sent)
}
