package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
)

// Stand-in for the analytics backends, for exercising the gateway locally.
// Run one per configured target: go run test/dummy-backend.go -port 3001
func main() {
	port := flag.Int("port", 3001, "port to listen on")
	flag.Parse()

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status": "healthy"}`)
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("backend :%d received %s %s", *port, r.Method, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"backend": "localhost:%d", "path": "%s"}`, *port, r.URL.Path)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("dummy backend listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
