// fake_host.go stands in for the host service in supervisor tests. It is
// compiled and run by the tests.
//
// Behavior is controlled by the FAKE_HOST_MODE env var:
//
//	"normal"   - announce the port twice, then run until SIGTERM (default)
//	"silent"   - never announce, run until SIGTERM
//	"crash"    - exit with code 2 right away
//	"stubborn" - announce once and ignore SIGTERM
//	"exit"     - announce once, then exit with code 3
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type status struct {
	Server struct {
		Listen struct {
			IP   string `json:"ip"`
			Port int    `json:"port"`
		} `json:"listen"`
	} `json:"server"`
}

func announce(path string, port int) {
	var s status
	s.Server.Listen.IP = "127.0.0.1"
	s.Server.Listen.Port = port
	data, _ := json.Marshal(s)
	if err := os.WriteFile(path, data, 0666); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR write status: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	statusFile := flag.String("report_status_file", "", "status file")
	port := flag.Int("listen_port", 48123, "port to announce")
	flag.Parse()

	mode := os.Getenv("FAKE_HOST_MODE")
	sigs := make(chan os.Signal, 1)

	switch mode {
	case "crash":
		fmt.Fprintln(os.Stderr, "Traceback (most recent call last):")
		os.Exit(2)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		announce(*statusFile, *port)
		time.Sleep(time.Minute)
		return
	case "exit":
		announce(*statusFile, *port)
		time.Sleep(300 * time.Millisecond)
		os.Exit(3)
	case "silent":
	default:
		fmt.Println("INFO: starting")
		announce(*statusFile, *port)
		time.Sleep(20 * time.Millisecond)
		announce(*statusFile, *port)
	}

	signal.Notify(sigs, syscall.SIGTERM, os.Interrupt)
	select {
	case <-sigs:
	case <-time.After(time.Minute):
	}
}
