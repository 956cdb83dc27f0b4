package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"energyguard/internal/config"
)

const version = "0.1.0"

// client wraps a base URL and bearer token, mirroring the shape of the
// original EnergyGuardClient.
type client struct {
	baseURL string
	token   string
	verbose bool
}

func main() {
	var (
		command = flag.String("cmd", "", "command to execute")
		help    = flag.Bool("help", false, "show help")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if *help || *command == "" {
		showHelp()
		return
	}

	cfg, err := config.LoadOrCreateClientConfig("config/config_client.json")
	if err != nil {
		fmt.Printf("Error loading client config: %v\n", err)
		os.Exit(1)
	}

	c := &client{
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		token:   cfg.APIToken,
		verbose: *verbose,
	}

	args := flag.Args()

	switch *command {
	case "ingest":
		c.handleIngest(args)
	case "get":
		c.handleGet(args)
	case "delete":
		c.handleDelete(args)
	case "fail":
		c.handleFail(args)
	case "recover":
		c.handleRecover(args)
	case "status":
		c.handleStatus()
	case "configure":
		c.handleConfigure(args)
	case "replicas":
		c.handleReplicas(args)
	case "threshold":
		c.handleThreshold(args)
	case "alerts":
		c.handleAlerts()
	case "menu":
		c.runMenu()
	default:
		fmt.Printf("Unknown command: %s\n", *command)
		showHelp()
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Printf(`EnergyGuard CLI v%s

USAGE:
    energyguardctl --cmd <command> [options] -- [args]

Command arguments such as --key or --id go after "--"; without it
they are rejected as unknown flags.

COMMANDS:
    ingest    - Ingest a measurement
    get       - Read a measurement
    delete    - Delete a measurement
    fail      - Fail a storage node
    recover   - Recover a storage node
    status    - Show node status
    configure - Switch replication strategy
    replicas  - Show responsible nodes for a key
    threshold - Set a sensor alert threshold
    alerts    - List raised alerts
    menu      - Run the interactive menu

EXAMPLES:
    energyguardctl --cmd ingest -- --sensor s1 --timestamp 1 --value 42.0
    energyguardctl --cmd get -- --key s1:1
    energyguardctl --cmd fail -- --id 1
    energyguardctl --cmd recover -- --id 1
    energyguardctl --cmd configure -- --strategy consistent --factor 2
    energyguardctl --cmd menu

OPTIONS:
    --v      Verbose output
    --help   Show this help message

`, version)
}

// checkInitialization probes /nodes_status once, mirroring the original
// client's startup connectivity check. A failure here is fatal.
func (c *client) checkInitialization() bool {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/nodes_status", nil)
	if err != nil {
		fmt.Printf("Error connecting to server: %v\n", err)
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error connecting to server: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (c *client) do(method, path string, body interface{}) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			fmt.Printf("Error encoding request: %v\n", err)
			return
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.verbose {
		fmt.Printf("%s %s\n", method, c.baseURL+path)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		return
	}
	defer resp.Body.Close()

	c.handleResponse(resp)
}

func (c *client) handleResponse(resp *http.Response) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading response: %v\n", err)
		return
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		fmt.Printf("Invalid response: %s\n", string(data))
		return
	}

	if resp.StatusCode == http.StatusOK {
		pretty, _ := json.MarshalIndent(parsed, "", "  ")
		fmt.Println(string(pretty))
		return
	}

	message := "no details"
	if m, ok := parsed["message"].(string); ok {
		message = m
	}
	fmt.Printf("Error %d: %s\n", resp.StatusCode, message)
}

func (c *client) handleIngest(args []string) {
	sensor := getArg(args, "--sensor", "")
	timestamp := getArg(args, "--timestamp", "")
	value := getArg(args, "--value", "")

	if sensor == "" || timestamp == "" || value == "" {
		fmt.Println("Error: --sensor, --timestamp, and --value are required")
		return
	}

	c.do(http.MethodPost, "/ingest", map[string]string{
		"sensor_id": sensor,
		"timestamp": timestamp,
		"value":     value,
	})
}

func (c *client) handleGet(args []string) {
	key := getArg(args, "--key", "")
	if key == "" {
		fmt.Println("Error: --key is required")
		return
	}
	c.do(http.MethodGet, "/measurement/"+key, nil)
}

func (c *client) handleDelete(args []string) {
	key := getArg(args, "--key", "")
	if key == "" {
		fmt.Println("Error: --key is required")
		return
	}
	c.do(http.MethodDelete, "/delete/"+key, nil)
}

func (c *client) handleFail(args []string) {
	id := getArg(args, "--id", "")
	if id == "" {
		fmt.Println("Error: --id is required")
		return
	}
	c.do(http.MethodPost, "/fail_node/"+id, nil)
}

func (c *client) handleRecover(args []string) {
	id := getArg(args, "--id", "")
	if id == "" {
		fmt.Println("Error: --id is required")
		return
	}
	c.do(http.MethodPost, "/recover_node/"+id, nil)
}

func (c *client) handleStatus() {
	c.do(http.MethodGet, "/nodes_status", nil)
}

func (c *client) handleConfigure(args []string) {
	strategy := getArg(args, "--strategy", "")
	factor := getArg(args, "--factor", "")

	if strategy == "" {
		fmt.Println("Error: --strategy is required")
		return
	}

	body := map[string]interface{}{"strategy": strategy}
	if factor != "" {
		n, err := strconv.Atoi(factor)
		if err != nil {
			fmt.Printf("Error: invalid --factor %q: %v\n", factor, err)
			return
		}
		body["replication_factor"] = n
	}

	c.do(http.MethodPost, "/configure_replication", body)
}

func (c *client) handleReplicas(args []string) {
	key := getArg(args, "--key", "")
	if key == "" {
		fmt.Println("Error: --key is required")
		return
	}
	c.do(http.MethodGet, "/replica_nodes/"+key, nil)
}

func (c *client) handleThreshold(args []string) {
	sensor := getArg(args, "--sensor", "")
	threshold := getArg(args, "--threshold", "")

	if sensor == "" || threshold == "" {
		fmt.Println("Error: --sensor and --threshold are required")
		return
	}

	value, err := strconv.ParseFloat(threshold, 64)
	if err != nil {
		fmt.Printf("Error: invalid --threshold %q: %v\n", threshold, err)
		return
	}

	c.do(http.MethodPost, "/set_threshold", map[string]interface{}{
		"sensor_id": sensor,
		"threshold": value,
	})
}

func (c *client) handleAlerts() {
	c.do(http.MethodGet, "/alerts", nil)
}

// runMenu reproduces the original client's interactive REPL loop.
func (c *client) runMenu() {
	if !c.checkInitialization() {
		fmt.Println("Error connecting to server.")
		os.Exit(1)
	}

	fmt.Println("\nWelcome to EnergyGuard CLI")
	scanner := bufio.NewScanner(os.Stdin)

	prompt := func(label string) string {
		fmt.Print(label)
		if !scanner.Scan() {
			return ""
		}
		return strings.TrimSpace(scanner.Text())
	}

	for {
		fmt.Println("\nMenu:")
		fmt.Println("1. Ingest measurement")
		fmt.Println("2. Get measurement")
		fmt.Println("3. Delete measurement")
		fmt.Println("4. Fail node")
		fmt.Println("5. Recover node")
		fmt.Println("6. Get nodes status")
		fmt.Println("7. Set replication strategy")
		fmt.Println("8. Get responsible nodes")
		fmt.Println("9. Exit")
		choice := prompt("Choose an option: ")

		switch choice {
		case "1":
			sensor := prompt("Sensor ID: ")
			timestamp := prompt("Timestamp: ")
			value := prompt("Value: ")
			c.handleIngest([]string{"--sensor", sensor, "--timestamp", timestamp, "--value", value})
		case "2":
			key := prompt("Sensor key (e.g., sensor1:timestamp): ")
			c.handleGet([]string{"--key", key})
		case "3":
			key := prompt("Sensor key to delete: ")
			c.handleDelete([]string{"--key", key})
		case "4":
			id := prompt("Node ID to fail: ")
			c.handleFail([]string{"--id", id})
		case "5":
			id := prompt("Node ID to recover: ")
			c.handleRecover([]string{"--id", id})
		case "6":
			c.handleStatus()
		case "7":
			strategy := prompt("Strategy (full/consistent): ")
			factor := prompt("Replication factor (blank if full): ")
			args := []string{"--strategy", strategy}
			if factor != "" {
				args = append(args, "--factor", factor)
			}
			c.handleConfigure(args)
		case "8":
			key := prompt("Sensor key to inspect: ")
			c.handleReplicas([]string{"--key", key})
		case "9":
			return
		default:
			fmt.Println("Invalid choice")
		}
	}
}

func getArg(args []string, flag, defaultValue string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultValue
}
