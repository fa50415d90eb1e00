package topics_test

import (
	"reflect"
	"testing"

	"surf-tg/internal/domain/topics"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		caption string
		want    []string
	}{
		{
			name:    "batchAndTopicWithHome",
			caption: "Batch: X\nTopic: Home -> A -> B",
			want:    []string{"X", "A", "B"},
		},
		{
			name:    "topicOnlyHome",
			caption: "Topic: Home",
			want:    nil,
		},
		{
			name:    "topicWithoutHome",
			caption: "Topic: Class 10 -> Math",
			want:    []string{"Class 10", "Math"},
		},
		{
			name:    "caseInsensitiveLabels",
			caption: "some intro line\nbAtCh : Physics\nTOPIC: home -> Waves",
			want:    []string{"Physics", "Waves"},
		},
		{
			name:    "emptySegmentsDropped",
			caption: "Topic: Home ->  -> A ->   -> B",
			want:    []string{"A", "B"},
		},
		{
			name:    "homeNotFirstIsKept",
			caption: "Topic: A -> Home -> B",
			want:    []string{"A", "Home", "B"},
		},
		{
			name:    "batchOnly",
			caption: "Batch: Bundle 2024",
			want:    []string{"Bundle 2024"},
		},
		{
			name:    "noMarkers",
			caption: "just a plain caption\nwith two lines",
			want:    nil,
		},
		{
			name:    "emptyCaption",
			caption: "",
			want:    nil,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := topics.ParsePath(tc.caption)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParsePath(%q) = %#v, want %#v", tc.caption, got, tc.want)
			}
		})
	}
}
