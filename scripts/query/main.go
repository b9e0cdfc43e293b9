package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/goccy/go-json"
)

func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' to query the REST API, 'direct' to query ClickHouse directly.")
	apiURL := flag.String("api", "http://localhost:8080", "Base URL of the sentinel API.")
	resource := flag.String("resource", "metrics", "API resource: threats, metrics or blocked-ips.")
	limit := flag.Int("limit", 20, "Maximum number of threats to list.")
	chAddr := flag.String("clickhouse", "localhost:9000", "ClickHouse address for direct mode.")
	chUser := flag.String("user", "default", "ClickHouse user.")
	chPass := flag.String("password", "", "ClickHouse password.")
	since := flag.Duration("since", 24*time.Hour, "Direct mode: look back this far.")
	flag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "api":
		queryViaAPI(*apiURL, *resource, *limit)
	case "direct":
		directQueryClickHouse(*chAddr, *chUser, *chPass, *since)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

func queryViaAPI(base, resource string, limit int) {
	endpoint, err := url.JoinPath(base, "api", resource)
	if err != nil {
		log.Fatalf("Invalid API URL: %v", err)
	}
	if resource == "threats" {
		endpoint += fmt.Sprintf("?limit=%d", limit)
	}
	log.Printf("GET %s", endpoint)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned status %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	fmt.Println(prettyJSON.String())
}

func directQueryClickHouse(addr, user, password string, since time.Duration) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{Database: "default", Username: user, Password: password},
	})
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}
	defer conn.Close()

	const query = `
		SELECT
			ThreatType,
			Severity,
			COUNT(*)        AS Events,
			uniqExact(SrcIP) AS Sources,
			avg(Confidence) AS AvgConfidence
		FROM threat_events FINAL
		WHERE Timestamp >= ?
		GROUP BY ThreatType, Severity
		ORDER BY Events DESC
	`
	rows, err := conn.Query(context.Background(), query, time.Now().Add(-since))
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}
	defer rows.Close()

	var found bool
	for rows.Next() {
		found = true
		var (
			threatType, severity string
			events, sources      uint64
			avgConfidence        float64
		)
		if err := rows.Scan(&threatType, &severity, &events, &sources, &avgConfidence); err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		fmt.Printf("%-12s %-9s events=%d sources=%d avg_confidence=%.1f\n", threatType, severity, events, sources, avgConfidence)
	}
	if !found {
		log.Println("No threat events in the requested window.")
	}
	if err := rows.Err(); err != nil {
		log.Printf("An error occurred during row iteration: %v", err)
	}
}
