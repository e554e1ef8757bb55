package agentmesh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitAndFetchTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/tasks":
			var submission TaskSubmission
			if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
				t.Fatalf("decode submission: %v", err)
			}
			if submission.Title != "月度分析" {
				t.Fatalf("unexpected title: %q", submission.Title)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(Task{ID: "task-1", Title: submission.Title, Status: "PENDING", Version: 1})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tasks/task-1":
			json.NewEncoder(w).Encode(Task{ID: "task-1", Title: "月度分析", Status: "COMPLETED", Version: 4})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	created, err := client.SubmitTask(context.Background(), TaskSubmission{Title: "月度分析", Description: "对销售数据做月度分析"})
	if err != nil {
		t.Fatalf("submit task: %v", err)
	}
	if created.ID != "task-1" || created.Status != "PENDING" {
		t.Fatalf("unexpected created task: %+v", created)
	}

	detail, err := client.GetTask(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if detail.Status != "COMPLETED" {
		t.Fatalf("unexpected status: %s", detail.Status)
	}
}

func TestListTasksWithLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "2" {
			t.Fatalf("unexpected limit: %q", r.URL.Query().Get("limit"))
		}
		json.NewEncoder(w).Encode([]Task{{ID: "task-2"}, {ID: "task-1"}})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	tasks, err := client.ListTasks(context.Background(), 2)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "task-2" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestGetPaymentAndThread(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/payments/pay-1":
			json.NewEncoder(w).Encode(Payment{
				ID:     "pay-1",
				TaskID: "task-1",
				Amount: "10",
				Status: "COMPLETED",
				SettlementReceipt: &Receipt{
					TransactionID: "0xabc",
					Timestamp:     "2026-08-31T00:00:00Z",
				},
			})
		case "/api/v1/threads/a2a:task-1:pay-1":
			json.NewEncoder(w).Encode([]ThreadMessage{
				{Type: "payment/authorized", ThreadID: "a2a:task-1:pay-1"},
				{Type: "payment/released", ThreadID: "a2a:task-1:pay-1"},
			})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	pay, err := client.GetPayment(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if pay.SettlementReceipt == nil || pay.SettlementReceipt.TransactionID != "0xabc" {
		t.Fatalf("unexpected payment: %+v", pay)
	}

	thread, err := client.GetThread(context.Background(), "a2a:task-1:pay-1")
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if len(thread) != 2 {
		t.Fatalf("unexpected thread length: %d", len(thread))
	}
}

func TestAPIErrorSurfacesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"任务不存在"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GetTask(context.Background(), "missing")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}
