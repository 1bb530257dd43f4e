// ABOUTME: Canned voice requests the simulator can send
// ABOUTME: Maps single keys to recorded REQUEST_<name>.raw files
package app

import (
	"path/filepath"
	"strings"
)

// Control keys that are not canned requests
const (
	// KeyQuit sends the stop request, then quits
	KeyQuit = 'q'
	// KeyExit quits without sending anything
	KeyExit = 'e'
)

// Command is a canned request bound to a key
type Command struct {
	Key  rune
	Name string
	Path string
	// Quit ends the device after the request is sent
	Quit bool
}

var cannedRequests = []struct {
	key  rune
	name string
}{
	{'t', "what_time_is_it"},
	{'p', "who_is"},
	{'m', "play_music"},
	{'n', "play_live_news"},
	{'b', "play_audio_book"},
	{'a', "set_alarm"},
	{'s', "stop"},
	{'y', "yes"},
	{'w', "what_is_the_weather"},
	{'o', "one_plus_one"},
	{'l', "list_todo"},
}

// RequestFile returns the recording path for a request name
func RequestFile(dir, name string) string {
	return filepath.Join(dir, "REQUEST_"+name+".raw")
}

// DefaultCommands returns the canned requests recorded in dir
func DefaultCommands(dir string) []Command {
	cmds := make([]Command, 0, len(cannedRequests))
	for _, r := range cannedRequests {
		cmds = append(cmds, Command{Key: r.key, Name: r.name, Path: RequestFile(dir, r.name)})
	}
	return cmds
}

// Lookup resolves a key. KeyQuit resolves to the stop request with Quit
// set; KeyExit and unknown keys return false.
func Lookup(cmds []Command, key rune) (Command, bool) {
	if key == KeyQuit {
		for _, c := range cmds {
			if c.Name == "stop" {
				c.Key = KeyQuit
				c.Quit = true
				return c, true
			}
		}
		return Command{Key: KeyQuit, Name: "quit", Quit: true}, true
	}
	for _, c := range cmds {
		if c.Key == key {
			return c, true
		}
	}
	return Command{}, false
}

// Help lists the key bindings, one per line
func Help(cmds []Command) string {
	var b strings.Builder
	for _, c := range cmds {
		b.WriteString(string(c.Key))
		b.WriteString("  ")
		b.WriteString(strings.ReplaceAll(c.Name, "_", " "))
		b.WriteString("\n")
	}
	b.WriteString("q  stop and quit\n")
	b.WriteString("e  exit\n")
	return b.String()
}
