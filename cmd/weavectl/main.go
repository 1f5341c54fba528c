package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "taskweave server URL")
	task := flag.String("task", "", "task description to run")
	files := flag.String("files", "", "comma-separated list of known files")
	model := flag.String("model", "", "model override for this run")
	flag.Parse()

	if *task == "" {
		fmt.Fprintln(os.Stderr, "usage: weavectl -task \"...\" [-files a.go,b.go] [-model name]")
		os.Exit(2)
	}

	var knownFiles []string
	if *files != "" {
		for _, f := range strings.Split(*files, ",") {
			if f = strings.TrimSpace(f); f != "" {
				knownFiles = append(knownFiles, f)
			}
		}
	}

	id, err := startRun(*server, *task, knownFiles, *model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start run: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Run %s started\n---\n", id)

	if err := tailRun(*server, id); err != nil {
		fmt.Fprintf(os.Stderr, "tail run: %v\n", err)
		os.Exit(1)
	}
}

func startRun(server, task string, knownFiles []string, model string) (string, error) {
	payload := map[string]interface{}{
		"task":        task,
		"known_files": knownFiles,
	}
	if model != "" {
		payload["options"] = map[string]string{"model": model}
	}
	body, _ := json.Marshal(payload)

	resp, err := http.Post(server+"/api/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

type progressEvent struct {
	Agent   string `json:"agent"`
	StepID  string `json:"step_id,omitempty"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type runView struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Result *struct {
		CombinedCode string `json:"combined_code"`
	} `json:"result,omitempty"`
}

// tailRun polls the run's buffered events until the run reaches a
// terminal state, printing each new event once.
func tailRun(server, id string) error {
	printed := 0
	for {
		events, err := fetchEvents(server, id)
		if err != nil {
			return err
		}
		for ; printed < len(events); printed++ {
			e := events[printed]
			if e.StepID != "" {
				fmt.Printf("[%s/%s] (step %s) %s\n", e.Agent, e.Status, e.StepID, e.Message)
			} else {
				fmt.Printf("[%s/%s] %s\n", e.Agent, e.Status, e.Message)
			}
		}

		run, err := fetchRun(server, id)
		if err != nil {
			return err
		}
		if run.Status != "running" {
			fmt.Printf("---\nRun finished: %s\n", run.Status)
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}
			if run.Result != nil && run.Result.CombinedCode != "" {
				fmt.Printf("\n%s\n", run.Result.CombinedCode)
			}
			return nil
		}
		time.Sleep(time.Second)
	}
}

func fetchEvents(server, id string) ([]progressEvent, error) {
	resp, err := http.Get(server + "/api/runs/" + id + "/events")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var events []progressEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, err
	}
	return events, nil
}

func fetchRun(server, id string) (*runView, error) {
	resp, err := http.Get(server + "/api/runs/" + id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var run runView
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, err
	}
	return &run, nil
}
