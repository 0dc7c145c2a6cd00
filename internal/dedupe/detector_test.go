package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/regwatch/backend/internal/storage/models"
)

type fakeStore struct {
	offenders []models.Offender
	records   []models.Record
}

func (s *fakeStore) ListOffendersWithRegNumber(_ context.Context) ([]models.Offender, error) {
	return s.offenders, nil
}

func (s *fakeStore) ListRecordsByKind(_ context.Context, kind string) ([]models.Record, error) {
	var out []models.Record
	for _, r := range s.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func date(day int) *time.Time {
	t := time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestFindDuplicateOffenders(t *testing.T) {
	store := &fakeStore{offenders: []models.Offender{
		{ID: 1, Name: "ACME Chemicals Ltd", RegistrationNumber: "01234567"},
		{ID: 2, Name: "ACME Chemicals Limited", RegistrationNumber: "01234567"},
		{ID: 3, Name: "Northfield Construction", RegistrationNumber: "07654321"},
	}}
	detector := NewDetector(store, Config{})

	groups, err := detector.FindDuplicates(context.Background(), ResourceOffenders)
	if err != nil {
		t.Fatalf("FindDuplicates returned error: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0]) != 2 {
		t.Fatalf("expected 2 members, got %d", len(groups[0]))
	}
	if groups[0][0].ID != 1 || groups[0][1].ID != 2 {
		t.Errorf("unexpected group members: %+v", groups[0])
	}
}

func TestFindDuplicateOffendersNoCollisions(t *testing.T) {
	store := &fakeStore{offenders: []models.Offender{
		{ID: 1, RegistrationNumber: "111"},
		{ID: 2, RegistrationNumber: "222"},
	}}
	detector := NewDetector(store, Config{})

	groups, err := detector.FindDuplicates(context.Background(), ResourceOffenders)
	if err != nil {
		t.Fatalf("FindDuplicates returned error: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected no groups, got %d", len(groups))
	}
}

func TestFindDuplicateCases(t *testing.T) {
	desc := "Unauthorised deposit of controlled waste on land near the river."
	store := &fakeStore{records: []models.Record{
		// Same offender and agency, three days apart, near-identical text.
		{ID: 10, Kind: models.RecordKindCase, AgencyCode: models.AgencyEA, OffenderID: 1,
			Title: "Case A", EventDate: date(10), Description: desc},
		{ID: 11, Kind: models.RecordKindCase, AgencyCode: models.AgencyEA, OffenderID: 1,
			Title: "Case B", EventDate: date(13), Description: desc + " Additional."},
		// Same offender, unrelated description.
		{ID: 12, Kind: models.RecordKindCase, AgencyCode: models.AgencyEA, OffenderID: 1,
			Title: "Case C", EventDate: date(11),
			Description: "Failure to maintain an abstraction licence."},
		// Different offender entirely.
		{ID: 13, Kind: models.RecordKindCase, AgencyCode: models.AgencyEA, OffenderID: 2,
			Title: "Case D", EventDate: date(10), Description: desc},
	}}
	detector := NewDetector(store, Config{DescriptionThreshold: 0.7, DateWindow: 30 * 24 * time.Hour})

	groups, err := detector.FindDuplicates(context.Background(), ResourceCases)
	if err != nil {
		t.Fatalf("FindDuplicates returned error: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d: %+v", len(groups), groups)
	}
	group := groups[0]
	if len(group) != 2 || group[0].ID != 10 || group[1].ID != 11 {
		t.Errorf("unexpected group: %+v", group)
	}
}

func TestFindDuplicateCasesDateWindow(t *testing.T) {
	desc := "Identical description for both records in this scenario."
	store := &fakeStore{records: []models.Record{
		{ID: 20, Kind: models.RecordKindCase, AgencyCode: models.AgencyEA, OffenderID: 1,
			EventDate: date(1), Description: desc},
		{ID: 21, Kind: models.RecordKindCase, AgencyCode: models.AgencyEA, OffenderID: 1,
			EventDate: date(20), Description: desc},
	}}
	detector := NewDetector(store, Config{DescriptionThreshold: 0.7, DateWindow: 7 * 24 * time.Hour})

	groups, err := detector.FindDuplicates(context.Background(), ResourceCases)
	if err != nil {
		t.Fatalf("FindDuplicates returned error: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("records 19 days apart must not group in a 7-day window, got %+v", groups)
	}
}

func TestFindDuplicatesNilDates(t *testing.T) {
	desc := "Same description either way."
	store := &fakeStore{records: []models.Record{
		{ID: 30, Kind: models.RecordKindNotice, AgencyCode: models.AgencyHSE, OffenderID: 1,
			EventDate: nil, Description: desc},
		{ID: 31, Kind: models.RecordKindNotice, AgencyCode: models.AgencyHSE, OffenderID: 1,
			EventDate: date(5), Description: desc},
	}}
	detector := NewDetector(store, Config{})

	groups, err := detector.FindDuplicates(context.Background(), ResourceNotices)
	if err != nil {
		t.Fatalf("FindDuplicates returned error: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("records without dates must not group, got %+v", groups)
	}
}

func TestFindDuplicatesUnknownType(t *testing.T) {
	detector := NewDetector(&fakeStore{}, Config{})
	if _, err := detector.FindDuplicates(context.Background(), "widgets"); err == nil {
		t.Fatal("expected error for unknown resource type")
	}
}
