package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/internal/store"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
)

func TestRedeliveredMessageRunsAutomationsOnce(t *testing.T) {
	db, err := database.OpenDialector(sqlite.Open("file:webhook_redelivery?mode=memory&cache=shared"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := &engineCalls{}
	r := newRouter(&Handler{
		Store:    store.New(db),
		Engine:   eng,
		Detached: &automation.Detached{Inline: true},
		Log:      zap.NewNop(),
	})

	payload := `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
  "contacts":[{"wa_id":"3655","profile":{"name":"Ida"}}],
  "messages":[{"from":"3655","id":"wamid.retry","timestamp":"1","type":"text","text":{"body":"hello"}}]}}]}]}`
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload)))
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, w.Code)
		}
	}

	var n int64
	db.Model(&models.Message{}).Where("provider_message_id = ?", "wamid.retry").Count(&n)
	if n != 1 {
		t.Fatalf("expected one stored message, got %d", n)
	}
	want := "new_contact,message_received"
	if got := strings.Join(eng.calls, ","); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
