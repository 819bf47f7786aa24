// Package main runs end-to-end tests of the message filter pipeline against
// a live API instance.
//
// Scenarios cover:
//   - Clean messages passing through untouched
//   - Phone/email redaction (span-local, placeholder substitution)
//   - Payment-app and off-platform blocking
//   - Scope-change detection and the confirmation question
//   - Homeowner YES confirming a change; NO declining it
//   - Unreadable attachments held for review
//   - Decision history behind the admin token
//
// Usage:
//
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go               # runs all
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go phone-redact  # runs one
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const testBidID = "bid-e2e-fixture"

var (
	apiBase   string
	jwtSecret string
	jwt       string
)

// ---------------------------------------------------------------------------
// Scenario definition
// ---------------------------------------------------------------------------

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type decision struct {
	Action               string `json:"action"`
	DeliveredContent     string `json:"delivered_content"`
	GeneratedQuestion    string `json:"generated_question"`
	UpdateRequestEmitted bool   `json:"update_request_emitted"`
	Superseded           bool   `json:"superseded"`
}

func newConversationID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

func sendMessage(convID, role, content string) (*decision, error) {
	return sendMessageWithAttachments(convID, role, content, nil)
}

func sendMessageWithAttachments(convID, role, content string, attachments []map[string]string) (*decision, error) {
	payload := map[string]interface{}{
		"conversation_id": convID,
		"bid_id":          testBidID,
		"sender_role":     role,
		"content":         content,
	}
	if len(attachments) > 0 {
		payload["attachments"] = attachments
	}
	body, _ := json.Marshal(payload)
	resp, err := http.Post(apiBase+"/v1/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("POST /v1/messages returned %d: %s", resp.StatusCode, string(raw))
	}
	var dec decision
	if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
		return nil, err
	}
	return &dec, nil
}

func confirm(convID, reply string) (*decision, int, error) {
	body, _ := json.Marshal(map[string]string{"reply": reply})
	resp, err := http.Post(fmt.Sprintf("%s/v1/conversations/%s/confirm", apiBase, convID), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	var dec decision
	if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
		return nil, resp.StatusCode, err
	}
	return &dec, resp.StatusCode, nil
}

func listDecisions(convID string) ([]map[string]interface{}, int, error) {
	url := fmt.Sprintf("%s/v1/conversations/%s/decisions", apiBase, convID)
	req, _ := http.NewRequest("GET", url, nil)
	req.Header.Set("Authorization", "Bearer "+jwt)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	var out struct {
		Decisions []map[string]interface{} `json:"decisions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, err
	}
	return out.Decisions, resp.StatusCode, nil
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func generateJWT(secret string) string {
	header := base64url(map[string]string{"alg": "HS256", "typ": "JWT"})
	now := time.Now()
	payload := base64url(map[string]interface{}{
		"sub":  "admin",
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(12 * time.Hour).Unix(),
	})
	unsigned := header + "." + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unsigned))
	sig := strings.TrimRight(base64.URLEncoding.EncodeToString(mac.Sum(nil)), "=")
	return unsigned + "." + sig
}

func base64url(v interface{}) string {
	b, _ := json.Marshal(v)
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "=")
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func scenarioCleanAllow(t *T) {
	convID := newConversationID()
	content := "The tile and grout will be finished by Friday."
	dec, err := sendMessage(convID, "contractor", content)
	if err != nil {
		t.fatalf("send: %v", err)
		return
	}
	t.check("action is allow", dec.Action == "allow")
	t.check("content untouched", dec.DeliveredContent == content)
	t.check("no confirmation question", dec.GeneratedQuestion == "")
}

func scenarioPhoneRedact(t *T) {
	convID := newConversationID()
	dec, err := sendMessage(convID, "contractor", "Sounds good, call me at 555-867-5309 tomorrow.")
	if err != nil {
		t.fatalf("send: %v", err)
		return
	}
	t.check("action is redact or block", dec.Action == "redact" || dec.Action == "block")
	t.check("number removed", !strings.Contains(dec.DeliveredContent, "555"))
	if dec.Action == "redact" {
		t.check("placeholder present", strings.Contains(dec.DeliveredContent, "[CONTACT REMOVED]"))
		t.check("surrounding text preserved", containsAny(dec.DeliveredContent, "Sounds good", "tomorrow"))
	}
}

func scenarioPaymentBlock(t *T) {
	convID := newConversationID()
	dec, err := sendMessage(convID, "contractor", "You can just venmo me for the deposit.")
	if err != nil {
		t.fatalf("send: %v", err)
		return
	}
	t.check("action is block", dec.Action == "block")
	t.check("matched value not echoed", !containsAny(dec.DeliveredContent, "venmo"))
	t.check("notice names the category", containsAny(dec.DeliveredContent, "payment", "platform"))
}

func scenarioObfuscatedEmail(t *T) {
	convID := newConversationID()
	dec, err := sendMessage(convID, "contractor", "I'm at mikebuilds (at) gmail (dot) com if you need me.")
	if err != nil {
		t.fatalf("send: %v", err)
		return
	}
	t.check("obfuscated email caught", dec.Action == "block" || dec.Action == "redact")
	t.check("address not delivered", !containsAny(dec.DeliveredContent, "mikebuilds"))
}

func scenarioScopeConfirmation(t *T) {
	convID := newConversationID()
	dec, err := sendMessage(convID, "contractor", "Let's use granite instead of quartz for the counters.")
	if err != nil {
		t.fatalf("send: %v", err)
		return
	}
	t.check("held at redact pending confirmation", dec.Action == "redact" || dec.Action == "block")
	t.check("confirmation question generated", dec.GeneratedQuestion != "")
	t.check("question names the change", containsAny(dec.GeneratedQuestion, "granite", "counters"))
	t.check("no update dispatched yet", !dec.UpdateRequestEmitted)
}

func scenarioHomeownerConfirms(t *T) {
	convID := newConversationID()
	if _, err := sendMessage(convID, "contractor", "Let's use granite instead of quartz for the counters."); err != nil {
		t.fatalf("send proposal: %v", err)
		return
	}
	dec, status, err := confirm(convID, "Yes, go ahead with that.")
	if err != nil {
		t.fatalf("confirm: %v", err)
		return
	}
	if status != http.StatusOK {
		t.fatalf("confirm returned %d", status)
		return
	}
	t.check("update request emitted after yes", dec.UpdateRequestEmitted)
}

func scenarioHomeownerDeclines(t *T) {
	convID := newConversationID()
	if _, err := sendMessage(convID, "contractor", "Let's use granite instead of quartz for the counters."); err != nil {
		t.fatalf("send proposal: %v", err)
		return
	}
	dec, status, err := confirm(convID, "No, keep it as agreed.")
	if err != nil {
		t.fatalf("confirm: %v", err)
		return
	}
	if status != http.StatusOK {
		t.fatalf("confirm returned %d", status)
		return
	}
	t.check("no update dispatched after no", !dec.UpdateRequestEmitted)

	// A second reply has nothing left to confirm.
	_, status, err = confirm(convID, "yes")
	if err != nil {
		t.fatalf("second confirm: %v", err)
		return
	}
	t.check("second reply finds no pending confirmation", status == http.StatusConflict)
}

func scenarioUnreadableAttachment(t *T) {
	convID := newConversationID()
	encrypted := base64.StdEncoding.EncodeToString([]byte("%PDF-1.7\n/Encrypt 42 0 R\n"))
	dec, err := sendMessageWithAttachments(convID, "contractor", "Signed change order attached.", []map[string]string{
		{"kind": "pdf", "data": encrypted},
	})
	if err != nil {
		t.fatalf("send: %v", err)
		return
	}
	t.check("unreadable attachment blocks delivery", dec.Action == "block")
	t.check("notice mentions review", containsAny(dec.DeliveredContent, "review"))
}

func scenarioDecisionHistory(t *T) {
	convID := newConversationID()
	if _, err := sendMessage(convID, "contractor", "Call me at 555-867-5309."); err != nil {
		t.fatalf("send: %v", err)
		return
	}

	_, status, err := listDecisionsUnauthenticated(convID)
	if err != nil {
		t.fatalf("unauthenticated list: %v", err)
		return
	}
	t.check("history requires admin token", status == http.StatusUnauthorized || status == http.StatusForbidden)

	decs, status, err := listDecisions(convID)
	if err != nil {
		t.fatalf("list: %v", err)
		return
	}
	if status != http.StatusOK {
		t.fatalf("list returned %d", status)
		return
	}
	t.check("decision recorded", len(decs) >= 1)
}

func listDecisionsUnauthenticated(convID string) ([]map[string]interface{}, int, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/conversations/%s/decisions", apiBase, convID))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	return nil, resp.StatusCode, nil
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	apiBase = os.Getenv("API_BASE_URL")
	jwtSecret = os.Getenv("ADMIN_JWT_SECRET")
	if apiBase == "" || jwtSecret == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL and ADMIN_JWT_SECRET required")
		os.Exit(1)
	}
	jwt = generateJWT(jwtSecret)

	scenarios := []scenario{
		{"clean-allow", scenarioCleanAllow},
		{"phone-redact", scenarioPhoneRedact},
		{"payment-block", scenarioPaymentBlock},
		{"obfuscated-email", scenarioObfuscatedEmail},
		{"scope-confirmation", scenarioScopeConfirmation},
		{"homeowner-confirms", scenarioHomeownerConfirms},
		{"homeowner-declines", scenarioHomeownerDeclines},
		{"unreadable-attachment", scenarioUnreadableAttachment},
		{"decision-history", scenarioDecisionHistory},
	}

	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "PASS"
		if t.failed > 0 {
			status = "FAIL"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  [%s] %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		os.Exit(1)
	}
}
