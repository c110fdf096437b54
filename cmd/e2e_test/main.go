package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func baseURL() string {
	if u := os.Getenv("E2E_BASE_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func main() {
	// Wait for server to start
	time.Sleep(2 * time.Second)

	// 1. Health Check
	checkEndpoint("GET", "/health", nil, 200)

	// 2. Record a buy, a partial sell and some cash
	buyID := create("/trades", map[string]string{"date": "2024-01-02", "ticker": "AAPL", "side": "Buy", "shares": "10", "price": "150"})
	sellID := create("/trades", map[string]string{"date": "2024-02-01", "ticker": "AAPL", "side": "Sell", "shares": "4", "price": "180"})
	txID := create("/transactions", map[string]string{"date": "2024-01-01", "kind": "Income", "amount": "5000", "category": "Salary"})
	fmt.Printf("Created trades %d, %d and transaction %d\n", buyID, sellID, txID)

	// 3. Tags, the second insert must conflict
	tag := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	tagID := create("/tags", map[string]string{"name": tag})
	checkEndpoint("POST", "/tags", map[string]string{"name": tag}, 409)

	// 4. Portfolio
	checkEndpoint("GET", "/portfolio", nil, 200)

	// 5. Ticker search, options and extraction
	checkEndpoint("GET", "/tickers/search?q=AAP", nil, 200)
	checkEndpoint("GET", "/tickers/options?q=apple&limit=5", nil, 200)
	checkEndpoint("GET", "/tickers/extract?option=AAPL+%7C+Apple+Inc.+%28Stock%29", nil, 200)

	// 6. Clean up
	checkEndpoint("DELETE", fmt.Sprintf("/trades/%d", sellID), nil, 200)
	checkEndpoint("DELETE", fmt.Sprintf("/trades/%d", buyID), nil, 200)
	checkEndpoint("DELETE", fmt.Sprintf("/transactions/%d", txID), nil, 200)
	checkEndpoint("DELETE", fmt.Sprintf("/tags/%d", tagID), nil, 200)
	checkEndpoint("DELETE", fmt.Sprintf("/trades/%d", buyID), nil, 404)

	fmt.Println("ALL TESTS PASSED")
}

func do(method, path string, body interface{}) (int, []byte) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, baseURL()+path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody
}

func checkEndpoint(method, path string, body interface{}, expectedStatus int) {
	fmt.Printf("Testing %s %s...\n", method, path)
	status, respBody := do(method, path, body)
	if status != expectedStatus {
		log.Fatalf("Expected status %d, got %d. Body: %s", expectedStatus, status, string(respBody))
	}
	fmt.Printf("Response: %s\n", string(respBody))
}

func create(path string, body map[string]string) int64 {
	status, respBody := do("POST", path, body)
	if status != 201 {
		log.Fatalf("Create %s failed with status %d: %s", path, status, string(respBody))
	}
	var res struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(respBody, &res); err != nil {
		log.Fatalf("Create %s returned %s: %v", path, string(respBody), err)
	}
	return res.ID
}
