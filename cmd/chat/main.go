// Command chat is a terminal client for interviewing personas served by
// personasim serve.
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
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	nameStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func main() {
	server := flag.String("server", "http://localhost:8080", "personasim server URL")
	user := flag.String("user", "cli-user", "User name for the interview")
	flag.Parse()

	fmt.Println("Persona interview")
	fmt.Printf("Server: %s | User: %s\n", *server, *user)
	fmt.Println("Type 'exit' or 'quit' to leave. Use @Name to pick a persona, @all to ask everyone.")
	fmt.Println("Local commands: /status, /list. Other /commands are sent to the server.")
	fmt.Println("---")

	names := fetchPersonas(*server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch input {
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		case "/status":
			fetchStatus(*server)
			continue
		case "/list":
			names = fetchPersonas(*server)
			continue
		}

		sendMessage(*server, *user, input, names)
	}
}

type persona struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Profile map[string]any `json:"profile"`
}

// fetchPersonas prints the registered personas and returns their names by ID.
func fetchPersonas(server string) map[string]string {
	names := make(map[string]string)
	resp, err := http.Get(server + "/api/personas")
	if err != nil {
		printError("Failed to fetch personas: %v", err)
		return names
	}
	defer resp.Body.Close()

	var personas []persona
	if err := json.NewDecoder(resp.Body).Decode(&personas); err != nil {
		printError("Failed to parse personas: %v", err)
		return names
	}
	if len(personas) == 0 {
		fmt.Println("No personas registered yet. Try /create_persona Name key=value ...")
		return names
	}
	fmt.Println("Available personas:")
	for _, p := range personas {
		names[p.ID] = p.Name
		occupation, _ := p.Profile["occupation"].(string)
		if occupation == "" {
			occupation = "unknown occupation"
		}
		fmt.Printf("  @%s %s\n", p.Name, dimStyle.Render("("+occupation+", "+p.Status+")"))
	}
	return names
}

func fetchStatus(server string) {
	resp, err := http.Get(server + "/api/gateway/status")
	if err != nil {
		printError("Failed to fetch status: %v", err)
		return
	}
	defer resp.Body.Close()

	var statuses []struct {
		Platform  string `json:"platform"`
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
		Details   string `json:"details,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		printError("Failed to parse status: %v", err)
		return
	}
	fmt.Println("Gateway status:")
	for _, s := range statuses {
		icon := errorStyle.Render("✗")
		if s.Connected {
			icon = okStyle.Render("✓")
		}
		fmt.Printf("  %s %s", icon, s.Platform)
		if s.Details != "" {
			fmt.Printf(": %s", s.Details)
		}
		if s.Error != "" {
			fmt.Print(" " + errorStyle.Render("("+s.Error+")"))
		}
		fmt.Println()
	}
}

func sendMessage(server, user, content string, names map[string]string) {
	body, _ := json.Marshal(map[string]string{
		"user_id":   user,
		"user_name": user,
		"content":   content,
	})

	// Persona turns can take several model calls.
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(
		server+"/api/gateway/rest/message",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return
	}

	var msg struct {
		PersonaID   string `json:"persona_id"`
		PersonaName string `json:"persona_name"`
		Content     string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}

	if msg.PersonaID == "" {
		fmt.Println(msg.Content)
		return
	}
	label := msg.PersonaName
	if label == "" {
		label = names[msg.PersonaID]
	}
	if label == "" {
		label = msg.PersonaID
	}
	fmt.Printf("%s %s\n", nameStyle.Render("["+label+"]"), msg.Content)
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf(format, args...)))
}
