package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

func get(path string, out any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + daemonAddr + path)
	if err != nil {
		return fmt.Errorf("is proctord running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, body)
	}
	return json.Unmarshal(body, out)
}

func post(path string, payload any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post("http://"+daemonAddr+path, "application/json", body)
	if err != nil {
		return fmt.Errorf("is proctord running? %w", err)
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, msg)
	}
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
