package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matchvision/player-gallery/internal/gallery"
)

func TestProfilesHandler_List(t *testing.T) {
	handler := NewProfilesHandler(testStore(t), nil)

	req := httptest.NewRequest("GET", "/api/v1/profiles", nil)
	recorder := httptest.NewRecorder()

	handler.List(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var profiles []ProfileSummary
	parseJSONResponse(t, recorder, &profiles)

	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].ID != "alice" || profiles[1].ID != "bob" {
		t.Errorf("expected sorted ids [alice bob], got [%s %s]", profiles[0].ID, profiles[1].ID)
	}
	if profiles[0].Team != "Red" || profiles[0].JerseyNumber != "10" {
		t.Errorf("alice metadata lost: %+v", profiles[0])
	}
}

func TestProfilesHandler_List_Empty(t *testing.T) {
	store := gallery.NewStore(testStore(t).Tuning(), nil)
	handler := NewProfilesHandler(store, nil)

	req := httptest.NewRequest("GET", "/api/v1/profiles", nil)
	recorder := httptest.NewRecorder()

	handler.List(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	if body := recorder.Body.String(); body == "null\n" {
		t.Error("expected an empty array, got null")
	}
}

func TestProfilesHandler_Get(t *testing.T) {
	handler := NewProfilesHandler(testStore(t), nil)

	req := httptest.NewRequest("GET", "/api/v1/profiles/alice", nil)
	req = requestWithChiParams(req, map[string]string{"id": "alice"})
	recorder := httptest.NewRecorder()

	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var detail ProfileDetail
	parseJSONResponse(t, recorder, &detail)

	if detail.ID != "alice" || detail.Name != "Alice" {
		t.Errorf("unexpected detail identity: %+v", detail.ProfileSummary)
	}
}

func TestProfilesHandler_Get_NotFound(t *testing.T) {
	handler := NewProfilesHandler(testStore(t), nil)

	req := httptest.NewRequest("GET", "/api/v1/profiles/nobody", nil)
	req = requestWithChiParams(req, map[string]string{"id": "nobody"})
	recorder := httptest.NewRecorder()

	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "profile not found")
}

func TestProfilesHandler_Events(t *testing.T) {
	store := testStore(t)
	handler := NewProfilesHandler(store, nil)

	req := httptest.NewRequest("GET", "/api/v1/profiles/alice/events", nil)
	req = requestWithChiParams(req, map[string]string{"id": "alice"})
	recorder := httptest.NewRecorder()

	handler.Events(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var events []gallery.Event
	parseJSONResponse(t, recorder, &events)

	// Creation is always the first logged event.
	if len(events) == 0 || events[0].Type != gallery.EventCreated {
		t.Errorf("expected a creation event first, got %+v", events)
	}
}

func TestProfilesHandler_Events_NotFound(t *testing.T) {
	handler := NewProfilesHandler(testStore(t), nil)

	req := httptest.NewRequest("GET", "/api/v1/profiles/nobody/events", nil)
	req = requestWithChiParams(req, map[string]string{"id": "nobody"})
	recorder := httptest.NewRecorder()

	handler.Events(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestProfilesHandler_TrackBoost(t *testing.T) {
	store := testStore(t)
	for i := 0; i < 3; i++ {
		if _, err := store.Update("alice", gallery.Update{TrackID: "t1"}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	handler := NewProfilesHandler(store, nil)

	req := httptest.NewRequest("GET", "/api/v1/profiles/alice/boost/t1", nil)
	req = requestWithChiParams(req, map[string]string{"id": "alice", "track": "t1"})
	recorder := httptest.NewRecorder()

	handler.TrackBoost(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result map[string]any
	parseJSONResponse(t, recorder, &result)

	if boost, _ := result["boost"].(float64); boost != 0.10 {
		t.Errorf("expected boost 0.10 for three co-occurrences, got %v", result["boost"])
	}
}
