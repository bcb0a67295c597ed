package processors

import "testing"

func TestPlanSegmentsCoversWholeDuration(t *testing.T) {
	cases := []struct {
		name       string
		durationMS int
		segmentMS  int
		want       int
	}{
		{"exact multiple", 30 * 60 * 1000, 10 * 60 * 1000, 3},
		{"trailing remainder", 35 * 60 * 1000, 10 * 60 * 1000, 4},
		{"shorter than one segment", 4 * 60 * 1000, 10 * 60 * 1000, 1},
		{"one millisecond", 1, 10 * 60 * 1000, 1},
		{"zero duration", 0, 10 * 60 * 1000, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spans := PlanSegments(tc.durationMS, tc.segmentMS)
			if len(spans) != tc.want {
				t.Fatalf("expected %d spans, got %d", tc.want, len(spans))
			}

			// Spans must tile the duration with no gaps or overlap.
			for i, s := range spans {
				if s.Number != i {
					t.Errorf("span %d numbered %d", i, s.Number)
				}
				wantStart := i * tc.segmentMS
				if s.StartMS != wantStart {
					t.Errorf("span %d starts at %d, want %d", i, s.StartMS, wantStart)
				}
				if s.EndMS <= s.StartMS {
					t.Errorf("span %d is empty: [%d, %d)", i, s.StartMS, s.EndMS)
				}
			}
			if len(spans) > 0 && spans[len(spans)-1].EndMS != tc.durationMS {
				t.Errorf("last span ends at %d, want %d", spans[len(spans)-1].EndMS, tc.durationMS)
			}
		})
	}
}
