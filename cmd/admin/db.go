package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gameID := fs.String("game", "", "game id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*gameID) == "" {
			fmt.Fprintln(os.Stderr, "missing -game or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "games", *gameID, "index", "game.sqlite")
	}
	if *limit <= 0 {
		*limit = 20
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fail("open", err)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,at_ns,round,players,items,walls FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r struct {
					Tick    int64     `json:"tick"`
					Path    string    `json:"path"`
					At      time.Time `json:"at"`
					Round   int       `json:"round"`
					Players int       `json:"players"`
					Items   int       `json:"items"`
					Walls   int       `json:"walls"`
				}
				ns int64
			)
			if err := rows.Scan(&r.Tick, &r.Path, &ns, &r.Round, &r.Players, &r.Items, &r.Walls); err != nil {
				fail("scan", err)
			}
			r.At = time.Unix(0, ns).UTC()
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "types":
		rows, err := db.Query(`SELECT kind, type, COUNT(*), MIN(time_ns), MAX(time_ns) FROM events GROUP BY kind, type ORDER BY COUNT(*) DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r struct {
					Kind  string    `json:"kind"`
					Type  string    `json:"type"`
					Count int64     `json:"count"`
					First time.Time `json:"first"`
					Last  time.Time `json:"last"`
				}
				first, last int64
			)
			if err := rows.Scan(&r.Kind, &r.Type, &r.Count, &first, &last); err != nil {
				fail("scan", err)
			}
			r.First, r.Last = time.Unix(0, first).UTC(), time.Unix(0, last).UTC()
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "catalogs":
		rows, err := db.Query(`SELECT name, digest, updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "chat":
		rows, err := db.Query(`SELECT time_ns, origin, details FROM events WHERE kind = 'event' AND type = 'chat' ORDER BY time_ns DESC, id DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				ns      int64
				origin  string
				details string
				msg     struct {
					Contents string `json:"contents"`
				}
			)
			if err := rows.Scan(&ns, &origin, &details); err != nil {
				fail("scan", err)
			}
			_ = json.Unmarshal([]byte(details), &msg)
			fmt.Printf("%s\t%s\t%s\n", time.Unix(0, ns).UTC().Format(time.RFC3339), origin, msg.Contents)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-game GAME|-db PATH] [-limit N] snapshots|types|catalogs|chat")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
