package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	exactArgsForKey     = 2
	minArgsForStore     = 3
	maxArgsForStore     = 4
	exactArgsForNoKey   = 1
	ttlArgIndexForStore = 3
)

// ParseTextCommand parses a single-line text command into a Command.
// This is the input format of the command line tool's exec mode.
// Verbs are case-insensitive and accept Redis-style aliases.
//
// Example:
//
//	cmd, err := protocol.ParseTextCommand("SET mykey myvalue 60")
//	if err != nil {
//		log.Fatal(err)
//	}
//	// cmd.Type == CmdCreate, cmd.Key == "mykey", cmd.Payload == "myvalue", cmd.TTLSeconds == 60
//
// Supported verbs:
//   - CREATE | SET key payload [ttl]
//   - READ | GET key
//   - UPDATE key payload [ttl]
//   - DELETE | DEL key
//   - CLEAR | FLUSHALL
//   - STATS
//   - PING
func ParseTextCommand(line string) (Command, error) {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	verb := strings.ToUpper(parts[0])

	switch verb {
	case "CREATE", "SET":
		return parseStoreCommand(CmdCreate, verb, parts)
	case "UPDATE":
		return parseStoreCommand(CmdUpdate, verb, parts)
	case "READ", "GET":
		return parseKeyCommand(CmdRead, verb, parts)
	case "DELETE", "DEL":
		return parseKeyCommand(CmdDelete, verb, parts)
	case "CLEAR", "FLUSHALL":
		return parseBareCommand(CmdClear, verb, parts)
	case "STATS":
		return parseBareCommand(CmdStats, verb, parts)
	case "PING":
		return parseBareCommand(CmdPing, verb, parts)
	default:
		return Command{}, fmt.Errorf("unknown command: %s", verb)
	}
}

func parseStoreCommand(t CommandType, verb string, parts []string) (Command, error) {
	if len(parts) < minArgsForStore || len(parts) > maxArgsForStore {
		return Command{}, fmt.Errorf("%s requires a key, a payload and an optional ttl", verb)
	}

	cmd := Command{Type: t, Key: parts[1], Payload: parts[2]}

	if len(parts) == maxArgsForStore {
		ttl, err := strconv.ParseInt(parts[ttlArgIndexForStore], 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("invalid ttl %q: %w", parts[ttlArgIndexForStore], err)
		}
		cmd.TTLSeconds = ttl
	}

	return cmd, nil
}

func parseKeyCommand(t CommandType, verb string, parts []string) (Command, error) {
	if len(parts) != exactArgsForKey {
		return Command{}, fmt.Errorf("%s requires exactly 1 argument", verb)
	}
	return Command{Type: t, Key: parts[1]}, nil
}

func parseBareCommand(t CommandType, verb string, parts []string) (Command, error) {
	if len(parts) != exactArgsForNoKey {
		return Command{}, fmt.Errorf("%s takes no arguments", verb)
	}
	return Command{Type: t}, nil
}
