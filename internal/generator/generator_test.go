package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/joedaviesio/magna/internal/assemble"
	"github.com/joedaviesio/magna/internal/retrieval"
)

// fakeModel records the last call and returns a canned reply.
type fakeModel struct {
	reply string
	err   error

	gotMsgs []*schema.Message
	gotOpts *model.Options
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.gotMsgs = input
	f.gotOpts = model.GetCommonOptions(&model.Options{}, opts...)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func bondResult() retrieval.Result {
	return retrieval.Result{
		Text:           "A landlord must not require a bond that exceeds 4 weeks' rent.",
		ActTitle:       "Residential Tenancies Act 1986",
		SectionNumber:  "18",
		SectionHeading: "Maximum bond",
		Score:          0.8,
	}
}

func TestNew_RequiresModel(t *testing.T) {
	t.Parallel()

	if _, err := New(&Config{}); err == nil {
		t.Fatal("expected error for nil ChatModel")
	}
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{reply: "Under Section 18 of the Residential Tenancies Act..."}
	g, err := New(&Config{ChatModel: fm, Temperature: 0.3})
	if err != nil {
		t.Fatal(err)
	}

	ans, err := g.Generate(context.Background(), "What is the maximum bond?", []retrieval.Result{bondResult()})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if ans.Text != fm.reply || ans.UsedResults != 1 {
		t.Errorf("answer = %+v", ans)
	}

	if len(fm.gotMsgs) != 2 {
		t.Fatalf("got %d messages, want system + user", len(fm.gotMsgs))
	}
	if fm.gotMsgs[0].Role != schema.System || !strings.HasPrefix(fm.gotMsgs[0].Content, "You are Bowen") {
		t.Errorf("system message = %q", fm.gotMsgs[0].Content)
	}
	user := fm.gotMsgs[1].Content
	for _, want := range []string{
		"Question: What is the maximum bond?",
		"LEGISLATION EXCERPTS FROM DATABASE:\n## Residential Tenancies Act 1986",
		"**Section 18 - Maximum bond**",
		"Cite specific sections where possible.",
	} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}

	if fm.gotOpts.MaxTokens == nil || *fm.gotOpts.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens option = %v, want %d", fm.gotOpts.MaxTokens, DefaultMaxTokens)
	}
	if fm.gotOpts.Temperature == nil || *fm.gotOpts.Temperature != 0.3 {
		t.Errorf("Temperature option = %v", fm.gotOpts.Temperature)
	}
}

func TestGenerate_NoResults(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{reply: "Based on my general knowledge..."}
	g, _ := New(&Config{ChatModel: fm})
	if _, err := g.Generate(context.Background(), "What is the RMA?", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(fm.gotMsgs[1].Content, assemble.NoResultsContext) {
		t.Error("no-results context not used")
	}
	if fm.gotOpts.Temperature != nil {
		t.Error("zero temperature should not be sent")
	}
}

func TestGenerate_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	g, _ := New(&Config{ChatModel: &fakeModel{err: boom}})
	if _, err := g.Generate(context.Background(), "q", nil); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}

	g, _ = New(&Config{ChatModel: &fakeModel{reply: "  "}})
	if _, err := g.Generate(context.Background(), "q", nil); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestBuildMessages_TrimsToBudget(t *testing.T) {
	t.Parallel()

	big := bondResult()
	big.Text = strings.Repeat("landlord ", 400) // ~900 tokens each
	results := []retrieval.Result{big, big, big, big}

	g, _ := New(&Config{ChatModel: &fakeModel{}, MaxContextTokens: 2500})
	msgs, keep := g.BuildMessages(context.Background(), "bond?", results)
	if keep < 1 || keep >= len(results) {
		t.Fatalf("keep = %d, want a partial trim", keep)
	}
	if n := strings.Count(msgs[1].Content, "**Section 18"); n != keep {
		t.Errorf("rendered %d excerpts, want %d", n, keep)
	}
}

func TestDisclaimer(t *testing.T) {
	t.Parallel()

	if !strings.Contains(Disclaimer, "not legal advice") || !strings.Contains(Disclaimer, "Community Law Centre") {
		t.Errorf("Disclaimer = %q", Disclaimer)
	}
}
