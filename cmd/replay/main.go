// Replay tool for feeding a transaction CSV through a running Kestrel
// instance.
//
// Usage:
//
//	go run cmd/replay/main.go -csv /path/to/transactions.csv -url http://localhost:8080
//
// Each CSV row becomes one raw event posted to POST /transactions/process.
// Numeric fields arrive as strings; the ingestion path accepts both, so
// no per-column type mapping is needed here.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type summary struct {
	sent       int
	fraud      int
	duplicates int
	errors     int
}

func main() {
	csvPath := flag.String("csv", "", "Path to transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 0, "Maximum rows to replay (0 = all)")
	rate := flag.Int("rate", 50, "Events per second (0 = unthrottled)")
	verbose := flag.Bool("verbose", false, "Print each event result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV header: %v\n", err)
		os.Exit(1)
	}

	var throttle <-chan time.Time
	if *rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(*rate))
		defer ticker.Stop()
		throttle = ticker.C
	}

	client := &http.Client{Timeout: 10 * time.Second}
	var s summary
	started := time.Now()

	for {
		if *limit > 0 && s.sent >= *limit {
			break
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.errors++
			continue
		}

		if throttle != nil {
			<-throttle
		}

		event := rowToEvent(header, row)
		result, err := process(client, *baseURL, event)
		s.sent++
		if err != nil {
			s.errors++
			if *verbose {
				fmt.Printf("row %d: error: %v\n", s.sent, err)
			}
			continue
		}

		if result.Duplicate {
			s.duplicates++
		} else if result.Transaction.IsFraud {
			s.fraud++
		}

		if *verbose {
			fmt.Printf("row %d: id=%s fraud=%v score=%d pattern=%q\n",
				s.sent, result.Transaction.ID, result.Transaction.IsFraud,
				result.Transaction.RiskScore, result.Transaction.Pattern)
		}
	}

	elapsed := time.Since(started)
	fmt.Println()
	fmt.Println("Replay complete")
	fmt.Printf("  Rows sent:   %d\n", s.sent)
	fmt.Printf("  Fraud:       %d\n", s.fraud)
	fmt.Printf("  Duplicates:  %d\n", s.duplicates)
	fmt.Printf("  Errors:      %d\n", s.errors)
	fmt.Printf("  Elapsed:     %s\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Printf("  Throughput:  %.1f events/sec\n", float64(s.sent)/elapsed.Seconds())
	}
}

// rowToEvent maps one CSV row onto the feed's field vocabulary. Empty
// cells are omitted so the server applies its defaults.
func rowToEvent(header, row []string) map[string]any {
	event := make(map[string]any, len(header))
	for i, key := range header {
		if i >= len(row) || row[i] == "" || key == "" {
			continue
		}
		event[key] = row[i]
	}
	return event
}

type processResult struct {
	Duplicate   bool `json:"duplicate"`
	Transaction struct {
		ID        string `json:"id"`
		IsFraud   bool   `json:"isFraud"`
		RiskScore int    `json:"riskScore"`
		Pattern   string `json:"pattern"`
	} `json:"transaction"`
}

func process(client *http.Client, baseURL string, event map[string]any) (*processResult, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/transactions/process", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var result processResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func checkHealth(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}
