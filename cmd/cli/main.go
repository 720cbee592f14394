package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"
)

type sensor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Latest *struct {
		DatetimeDown *time.Time `json:"datetime_down"`
		DatetimeUp   *time.Time `json:"datetime_up"`
		Attempts     int        `json:"attempts"`
	} `json:"latest"`
}

func main() {
	downOnly := flag.Bool("down", false, "only list sensors that are down")
	flag.Parse()

	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}

	req, _ := http.NewRequest(http.MethodGet, api+"/api/sensors", nil)
	if k := os.Getenv("API_KEY"); k != "" {
		req.Header.Set("X-API-Key", k)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Error contacting API:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Println("API returned status:", resp.Status)
		os.Exit(1)
	}

	var sensors []sensor
	if err := json.NewDecoder(resp.Body).Decode(&sensors); err != nil {
		fmt.Println("Bad response:", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tSINCE\tATTEMPTS")
	for _, s := range sensors {
		if *downOnly && s.State != "down" {
			continue
		}
		since, attempts := "-", "-"
		if s.Latest != nil {
			switch {
			case s.State == "down" && s.Latest.DatetimeDown != nil:
				since = s.Latest.DatetimeDown.Format(time.RFC3339)
			case s.Latest.DatetimeUp != nil:
				since = s.Latest.DatetimeUp.Format(time.RFC3339)
			}
			attempts = fmt.Sprint(s.Latest.Attempts)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.State, since, attempts)
	}
	w.Flush()
}
