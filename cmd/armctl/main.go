// Command armctl is an interactive console for talking to the motion
// firmware over its JSON line protocol: type a command name and
// space-separated key=value arguments, get back the decoded reply.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/sixar/motion-firmware/host/serial"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud    = flag.Int("baud", 250000, "Baud rate (ignored over USB CDC)")
	verbose = flag.Bool("verbose", false, "Echo the raw JSON sent and received")
)

func main() {
	flag.Parse()

	fmt.Printf("Connecting to %s...\n", *device)
	port, err := serial.Open(&serial.Config{Device: *device, Baud: *baud, ReadTimeout: 100})
	if err != nil {
		fmt.Fprintf(os.Stderr, "armctl: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()

	go readReplies(port)

	fmt.Println("Connected. Type a command name and key=value args, 'help', or 'quit'.")
	scanner := bufio.NewScanner(os.Stdin)
	nextID := 1
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "quit", "exit", "q":
			return
		case "help", "?":
			printHelp()
			continue
		}

		envelope, err := buildEnvelope(line, nextID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "armctl: %v\n", err)
			continue
		}
		nextID++

		raw, err := json.Marshal(envelope)
		if err != nil {
			fmt.Fprintf(os.Stderr, "armctl: %v\n", err)
			continue
		}
		if *verbose {
			fmt.Printf("-> %s\n", raw)
		}
		if _, err := port.Write(append(raw, '\n')); err != nil {
			fmt.Fprintf(os.Stderr, "armctl: write failed: %v\n", err)
		}
	}
}

// buildEnvelope tokenizes "cmd key=value key=value..." (shell-style
// quoting via shlex, so string values can contain spaces) into the
// {cmd, id, ...payload} envelope the dispatcher expects.
func buildEnvelope(line string, id int) (map[string]interface{}, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("tokenizing command: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	envelope := map[string]interface{}{"cmd": tokens[0], "id": id}
	for _, tok := range tokens[1:] {
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q is not key=value", tok)
		}
		envelope[key] = parseArgValue(val)
	}
	return envelope, nil
}

// parseArgValue tries, in order, a JSON array/number/bool, falling
// back to a plain string.
func parseArgValue(val string) interface{} {
	if strings.HasPrefix(val, "[") {
		var arr []interface{}
		if err := json.Unmarshal([]byte(val), &arr); err == nil {
			return arr
		}
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return val
}

func readReplies(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fmt.Printf("<- %s\n", scanner.Text())
	}
}

func printHelp() {
	fmt.Println(`
Commands are sent as: <cmd> [key=value ...]
Examples:
  MoveTo joint=1 target=45 speed=20 accel=30
  Jog joint=2 target=-10 accel=40
  Home joint=1 speedFast=8 speedSlow=3
  GetSystemStatus
  SetMaxSpeed joint=3 value=60
  Output index=1 high=true

quit/exit/q - disconnect and exit`)
}
