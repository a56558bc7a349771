package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseScoresPlainJSON(t *testing.T) {
	raw := `{"emotional_intimacy": 7, "possessiveness_jealousy": 3,
	         "testing_trust_building": 5, "sexual_attraction_physical_intimacy": 2}`
	scores, err := ParseScores(raw)
	if err != nil {
		t.Fatalf("ParseScores: %v", err)
	}
	want := Scores{7, 3, 5, 2}
	if scores != want {
		t.Errorf("scores = %+v, want %+v", scores, want)
	}
	if scores.Mean() != 4.25 {
		t.Errorf("mean = %v, want 4.25", scores.Mean())
	}
}

func TestParseScoresStripsCodeFence(t *testing.T) {
	for _, raw := range []string{
		"```json\n{\"emotional_intimacy\":1,\"possessiveness_jealousy\":2,\"testing_trust_building\":3,\"sexual_attraction_physical_intimacy\":4}\n```",
		"```\n{\"emotional_intimacy\":1,\"possessiveness_jealousy\":2,\"testing_trust_building\":3,\"sexual_attraction_physical_intimacy\":4}\n```",
	} {
		scores, err := ParseScores(raw)
		if err != nil {
			t.Fatalf("ParseScores(%q): %v", raw[:12], err)
		}
		if scores.SexualAttractionPhysicalIntimacy != 4 {
			t.Errorf("got %+v", scores)
		}
	}
}

func TestParseScoresRejectsInvalidOutput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "我觉得他们关系不错"},
		{"missing key", `{"emotional_intimacy":1,"possessiveness_jealousy":2,"testing_trust_building":3}`},
		{"non-numeric", `{"emotional_intimacy":"high","possessiveness_jealousy":2,"testing_trust_building":3,"sexual_attraction_physical_intimacy":4}`},
		{"json array", `[1,2,3,4]`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseScores(c.raw)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("err = %v, want *ParseError", err)
			}
		})
	}
}

func TestParseScoresClampsAndRounds(t *testing.T) {
	raw := `{"emotional_intimacy": -3, "possessiveness_jealousy": 14,
	         "testing_trust_building": 6.6, "sexual_attraction_physical_intimacy": 2.4}`
	scores, err := ParseScores(raw)
	if err != nil {
		t.Fatalf("ParseScores: %v", err)
	}
	want := Scores{0, 10, 7, 2}
	if scores != want {
		t.Errorf("scores = %+v, want %+v", scores, want)
	}
}

// scriptedClient 依次返回预设的回复；用完后报错。
type scriptedClient struct {
	replies []string
	errs    []error
	calls   int
}

func (c *scriptedClient) Score(_ context.Context, _, _ string) (string, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return "", fmt.Errorf("no scripted reply %d", i)
}

const validReply = `{"emotional_intimacy":5,"possessiveness_jealousy":5,"testing_trust_building":5,"sexual_attraction_physical_intimacy":5}`

func TestEvaluateRetriesUntilValid(t *testing.T) {
	client := &scriptedClient{replies: []string{"垃圾输出", "{broken", validReply}}
	scores, err := New(3).Evaluate(context.Background(), client, "小岚", "用户: 你好")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if client.calls != 3 {
		t.Errorf("calls = %d, want 3", client.calls)
	}
	if scores.EmotionalIntimacy != 5 {
		t.Errorf("scores = %+v", scores)
	}
}

func TestEvaluateExhaustsRetries(t *testing.T) {
	client := &scriptedClient{replies: []string{"bad", "bad", "bad"}}
	_, err := New(3).Evaluate(context.Background(), client, "小岚", "用户: 你好")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if client.calls != 3 {
		t.Errorf("calls = %d, want exactly 3", client.calls)
	}
}

func TestEvaluateTransportErrorsAlsoRetry(t *testing.T) {
	client := &scriptedClient{
		errs:    []error{errors.New("timeout"), nil},
		replies: []string{"", validReply},
	}
	_, err := New(3).Evaluate(context.Background(), client, "小岚", "用户: 你好")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("calls = %d, want 2", client.calls)
	}
}

func TestUserMessageIncludesCharacterAndDialogue(t *testing.T) {
	msg := UserMessage("小岚", "用户: 你好\n\n角色: 你好呀")
	if !strings.Contains(msg, "小岚") || !strings.Contains(msg, "你好呀") {
		t.Errorf("user message = %q", msg)
	}
	fallback := UserMessage("", "用户: 嗨")
	if !strings.Contains(fallback, "未命名角色") {
		t.Errorf("fallback message = %q", fallback)
	}
}
