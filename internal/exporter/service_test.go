package exporter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/api"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/cache"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/image"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/paginate"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/store"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

var (
	t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	chatA = "0b5c7e38-5d3f-4c59-9a84-1f1e6f3a0a01"
	chatB = "0b5c7e38-5d3f-4c59-9a84-1f1e6f3a0a02"
	charA = "7d1b2c34-0000-4000-8000-00000000000a"
)

type fakeClient struct {
	mu           sync.Mutex
	chats        []models.ChatSummary
	messages     map[string][]models.Message
	characters   map[string]*models.Character
	failMessages map[string]error
	chatCalls    int
	messageCalls map[string]int

	// When set, MessagePage signals started once and blocks until gate closes.
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages:     make(map[string][]models.Message),
		characters:   make(map[string]*models.Character),
		failMessages: make(map[string]error),
		messageCalls: make(map[string]int),
	}
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	end := min(offset+limit, len(all))
	out := make([]T, end-offset)
	copy(out, all[offset:end])
	return out
}

func (f *fakeClient) ChatPage(_ context.Context, offset, limit int) ([]models.ChatSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	return page(f.chats, offset, limit), nil
}

func (f *fakeClient) MessagePage(_ context.Context, chatID string, offset, limit int) ([]models.Message, error) {
	if f.gate != nil {
		f.once.Do(func() { close(f.started) })
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls[chatID]++
	if err := f.failMessages[chatID]; err != nil {
		return nil, err
	}
	return page(f.messages[chatID], offset, limit), nil
}

func (f *fakeClient) Character(_ context.Context, id string) (*models.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.characters[id]
	if !ok {
		return nil, fmt.Errorf("character %s: %w", id, api.ErrNotFound)
	}
	c := *ch
	return &c, nil
}

func (f *fakeClient) calls(chatID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messageCalls[chatID]
}

type fakeSink struct {
	mu    sync.Mutex
	names []string
	data  map[string][]byte
}

func (s *fakeSink) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.names = append(s.names, name)
	s.data[name] = data
	return "mem://" + name, nil
}

type fakeSaver struct {
	got []models.ImageRecord
}

func (s *fakeSaver) SaveAll(_ context.Context, records []models.ImageRecord, _ string) ([]image.Result, image.Summary, error) {
	s.got = records
	results := make([]image.Result, len(records))
	sum := image.Summary{Total: len(records)}
	for i, r := range records {
		results[i] = image.Result{Record: r}
		if strings.Contains(r.URL, "broken") {
			results[i].Err = errors.New("boom")
			sum.Failed++
			continue
		}
		sum.Saved++
	}
	return results, sum, nil
}

type fakeHistory struct {
	entries []*store.ExportEntry
}

func (h *fakeHistory) LogExport(_ context.Context, e *store.ExportEntry) error {
	h.entries = append(h.entries, e)
	return nil
}

func generated(uuid string, offset time.Duration, url string) models.Message {
	return models.Message{
		UUID:        uuid,
		CreatedAt:   t0.Add(offset),
		AuthorRole:  models.RoleBot,
		Text:        "/imagine " + uuid,
		TextToImage: models.TextToImagePayload{"prompt": uuid, "output_image_url": url},
	}
}

func fixture() *fakeClient {
	f := newFakeClient()
	f.chats = []models.ChatSummary{
		{UUID: chatA, Name: "first", CreatedAt: t0, Characters: []models.CharacterRef{{
			UUID:                charA,
			Name:                "Aria",
			ForegroundPhotoURLs: []string{"https://cdn.example/portrait.png"},
		}}},
		{UUID: chatB, Name: "second", CreatedAt: t0},
	}
	f.messages[chatA] = []models.Message{
		{UUID: "m3", CreatedAt: t0.Add(3 * time.Minute), AuthorRole: models.RoleUser, Text: "thanks"},
		generated("m2", 2*time.Minute, "https://cdn.example/two.png"),
		{UUID: "m1", CreatedAt: t0.Add(time.Minute), AuthorRole: models.RoleBot, Text: "hello", CharacterNickname: "Aria"},
	}
	f.characters[charA] = &models.Character{UUID: charA, Name: "Aria", Greeting: "Welcome, traveller."}
	return f
}

type testEnv struct {
	client  *fakeClient
	svc     *Service
	sink    *fakeSink
	saver   *fakeSaver
	history *fakeHistory
	now     time.Time
	sleeps  []time.Duration
}

func newEnv(t *testing.T, client *fakeClient, pageSize int) *testEnv {
	t.Helper()
	env := &testEnv{
		client:  client,
		sink:    &fakeSink{},
		saver:   &fakeSaver{},
		history: &fakeHistory{},
		now:     t0.Add(24 * time.Hour),
	}
	clock := func() time.Time { return env.now }
	env.svc = New(Deps{
		Client:          client,
		Cache:           cache.New(cache.NewMemoryBackend(), cache.WithClock(clock)),
		Saver:           env.saver,
		Sink:            env.sink,
		History:         env.history,
		PageSize:        pageSize,
		CountBatchSize:  3,
		CountBatchDelay: 250 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			env.sleeps = append(env.sleeps, d)
			return nil
		},
		Now: clock,
	})
	return env
}

func TestValidateChatID(t *testing.T) {
	if err := ValidateChatID(chatA); err != nil {
		t.Errorf("ValidateChatID(valid) = %v", err)
	}
	if err := ValidateChatID(""); !errors.Is(err, models.ErrEmptyChatID) {
		t.Errorf("ValidateChatID(\"\") = %v", err)
	}
	if err := ValidateChatID("not-a-uuid"); !errors.Is(err, ErrInvalidChatID) {
		t.Errorf("ValidateChatID(bad) = %v", err)
	}
}

func TestService_ListChatsPaginatesAndCaches(t *testing.T) {
	client := fixture()
	for i := 0; i < 3; i++ {
		client.chats = append(client.chats, models.ChatSummary{UUID: fmt.Sprintf("0b5c7e38-5d3f-4c59-9a84-1f1e6f3a0b0%d", i)})
	}
	env := newEnv(t, client, 2)
	ctx := context.Background()

	chats, err := env.svc.ListChats(ctx)
	if err != nil {
		t.Fatalf("ListChats() error = %v", err)
	}
	if len(chats) != 5 {
		t.Fatalf("ListChats() len = %d, want 5", len(chats))
	}
	if chats[0].UUID != chatA || chats[1].UUID != chatB {
		t.Errorf("ListChats() order = %s, %s", chats[0].UUID, chats[1].UUID)
	}
	if client.chatCalls != 3 {
		t.Errorf("chat page requests = %d, want 3", client.chatCalls)
	}

	if _, err := env.svc.ListChats(ctx); err != nil {
		t.Fatalf("second ListChats() error = %v", err)
	}
	if client.chatCalls != 3 {
		t.Errorf("cached ListChats() issued requests: %d", client.chatCalls)
	}

	env.now = env.now.Add(cache.ChatsTTL)
	if _, err := env.svc.ListChats(ctx); err != nil {
		t.Fatalf("expired ListChats() error = %v", err)
	}
	if client.chatCalls != 6 {
		t.Errorf("expired ListChats() requests = %d, want 6", client.chatCalls)
	}
}

func TestService_MessagesFailureIsNotCached(t *testing.T) {
	client := fixture()
	client.failMessages[chatA] = api.ErrAPI
	env := newEnv(t, client, 500)
	ctx := context.Background()

	_, err := env.svc.Messages(ctx, chatA)
	if !errors.Is(err, paginate.ErrAborted) || !errors.Is(err, api.ErrAPI) {
		t.Fatalf("Messages() error = %v, want ErrAborted wrapping ErrAPI", err)
	}

	delete(client.failMessages, chatA)
	msgs, err := env.svc.Messages(ctx, chatA)
	if err != nil {
		t.Fatalf("Messages() retry error = %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("Messages() len = %d, want 3", len(msgs))
	}
	if client.calls(chatA) != 2 {
		t.Errorf("message requests = %d, want 2", client.calls(chatA))
	}

	if _, err := env.svc.Messages(ctx, chatA); err != nil {
		t.Fatal(err)
	}
	if client.calls(chatA) != 2 {
		t.Error("successful result was not cached")
	}

	env.svc.Refresh(ctx, chatA)
	if _, err := env.svc.Messages(ctx, chatA); err != nil {
		t.Fatal(err)
	}
	if client.calls(chatA) != 3 {
		t.Error("Refresh() did not invalidate messages")
	}
}

func TestService_MessagesEmptyChat(t *testing.T) {
	env := newEnv(t, fixture(), 500)
	msgs, err := env.svc.Messages(context.Background(), chatB)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("Messages() = %v, want empty non-nil", msgs)
	}
}

func TestService_CharacterFallback(t *testing.T) {
	client := fixture()
	env := newEnv(t, client, 500)
	ctx := context.Background()

	chat := client.chats[0]
	ch, err := env.svc.Character(ctx, &chat)
	if err != nil || ch.Greeting != "Welcome, traveller." {
		t.Errorf("Character() = %+v, %v", ch, err)
	}

	delete(client.characters, charA)
	ch, err = env.svc.Character(ctx, &chat)
	if err != nil {
		t.Fatalf("Character() missing error = %v", err)
	}
	if ch.Name != "Aria" || ch.Greeting != "" {
		t.Errorf("Character() fallback = %+v", ch)
	}

	noChars := client.chats[1]
	ch, err = env.svc.Character(ctx, &noChars)
	if err != nil || ch.Name != "" {
		t.Errorf("Character() without characters = %+v, %v", ch, err)
	}
}

func TestService_ImagesAndCount(t *testing.T) {
	client := fixture()
	env := newEnv(t, client, 500)
	ctx := context.Background()

	records, err := env.svc.Images(ctx, chatA)
	if err != nil {
		t.Fatalf("Images() error = %v", err)
	}
	if len(records) != 2 || !records[0].IsPortrait() || records[1].URL != "https://cdn.example/two.png" {
		t.Errorf("Images() = %+v", records)
	}

	n, err := env.svc.ImageCount(ctx, chatA)
	if err != nil || n != 1 {
		t.Errorf("ImageCount() = %d, %v; want 1", n, err)
	}

	chats, err := env.svc.ListChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if chats[0].ImageCount == nil || *chats[0].ImageCount != 1 {
		t.Error("ListChats() did not attach cached image count")
	}
	if chats[1].ImageCount != nil {
		t.Error("ListChats() attached a count that was never computed")
	}
}

func TestService_ImageCountSameOnBothPaths(t *testing.T) {
	client := fixture()
	portrait := client.chats[0].Characters[0].ForegroundPhotoURLs[0]
	client.messages[chatA] = []models.Message{generated("m1", time.Minute, portrait)}
	ctx := context.Background()

	fresh := newEnv(t, client, 500)
	n, err := fresh.svc.ImageCount(ctx, chatA)
	if err != nil || n != 1 {
		t.Fatalf("ImageCount() = %d, %v; want 1", n, err)
	}

	viaImages := newEnv(t, client, 500)
	if _, err := viaImages.svc.Images(ctx, chatA); err != nil {
		t.Fatal(err)
	}
	chats, err := viaImages.svc.ListChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if chats[0].ImageCount == nil || *chats[0].ImageCount != n {
		t.Errorf("count cached by Images() = %v, want %d", chats[0].ImageCount, n)
	}
}

func TestService_BatchOutOfRange(t *testing.T) {
	env := newEnv(t, fixture(), 500)
	if _, err := env.svc.Batch(context.Background(), chatA, 9); err == nil {
		t.Error("Batch() out of range succeeded")
	}
	got, err := env.svc.Batch(context.Background(), chatA, 1)
	if err != nil || len(got) != 1 {
		t.Errorf("Batch() = %v, %v", got, err)
	}
}

func TestService_FillImageCounts(t *testing.T) {
	client := newFakeClient()
	var chats []models.ChatSummary
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("0b5c7e38-5d3f-4c59-9a84-1f1e6f3a0c%02d", i)
		chats = append(chats, models.ChatSummary{UUID: id})
		for j := 0; j < i; j++ {
			client.messages[id] = append(client.messages[id],
				generated(fmt.Sprintf("m%d", j), time.Duration(j)*time.Second, fmt.Sprintf("https://cdn.example/%d/%d.png", i, j)))
		}
	}
	preset := 42
	chats[0].ImageCount = &preset
	client.failMessages[chats[6].UUID] = api.ErrAPI

	env := newEnv(t, client, 500)
	if err := env.svc.FillImageCounts(context.Background(), chats); err != nil {
		t.Fatalf("FillImageCounts() error = %v", err)
	}

	if *chats[0].ImageCount != 42 {
		t.Error("existing count was overwritten")
	}
	if client.calls(chats[0].UUID) != 0 {
		t.Error("chat with a count was fetched")
	}
	for i := 1; i < 6; i++ {
		if chats[i].ImageCount == nil || *chats[i].ImageCount != i {
			t.Errorf("chat %d count = %v, want %d", i, chats[i].ImageCount, i)
		}
	}
	if chats[6].ImageCount != nil {
		t.Error("failed chat got a count")
	}
	// six pending chats in groups of three: one pause between the groups
	if len(env.sleeps) != 1 || env.sleeps[0] != 250*time.Millisecond {
		t.Errorf("sleeps = %v, want [250ms]", env.sleeps)
	}

	SortByImageCount(chats)
	if *chats[0].ImageCount != 42 || *chats[1].ImageCount != 5 || chats[6].ImageCount != nil {
		t.Errorf("SortByImageCount() order wrong")
	}
}

func TestService_Export(t *testing.T) {
	env := newEnv(t, fixture(), 500)

	out, err := env.svc.Export(context.Background(), chatA, models.FormatPlainText)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	wantName := "Chat with Aria 2024-06-02.txt"
	if out.Result.Filename != wantName || out.Location != "mem://"+wantName {
		t.Errorf("Export() = %q at %q", out.Result.Filename, out.Location)
	}
	want := "Aria\n\nWelcome, traveller.\n\n\nAria\n\nhello\n\n\nAria\n\n/imagine m2\n\n\nYou\n\nthanks"
	if got := string(env.sink.data[wantName]); got != want {
		t.Errorf("export data = %q, want %q", got, want)
	}
	if out.Messages != 3 {
		t.Errorf("Messages = %d", out.Messages)
	}

	if len(env.history.entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(env.history.entries))
	}
	e := env.history.entries[0]
	if e.ID != out.ID || e.ChatID != chatA || e.Format != "txt" || e.Bytes != int64(len(want)) {
		t.Errorf("history entry = %+v", e)
	}
}

func TestService_ExportHTMLIncludesImages(t *testing.T) {
	env := newEnv(t, fixture(), 500)
	out, err := env.svc.Export(context.Background(), chatA, models.FormatHTML)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	html := string(out.Result.Data)
	if !strings.Contains(html, "https://cdn.example/two.png") {
		t.Error("HTML export is missing the generated image")
	}
	if strings.Contains(html, "/imagine m2") {
		t.Error("HTML export kept the image command text")
	}
}

func TestService_ExportErrors(t *testing.T) {
	client := fixture()
	env := newEnv(t, client, 500)
	ctx := context.Background()

	if _, err := env.svc.Export(ctx, chatA, "pdf"); !errors.Is(err, models.ErrInvalidFormat) {
		t.Errorf("Export(pdf) error = %v", err)
	}
	if _, err := env.svc.Export(ctx, "0b5c7e38-5d3f-4c59-9a84-1f1e6f3a0fff", models.FormatFullJSON); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("Export(unknown chat) error = %v", err)
	}

	client.failMessages[chatA] = api.ErrAPI
	if _, err := env.svc.Export(ctx, chatA, models.FormatFullJSON); !errors.Is(err, paginate.ErrAborted) {
		t.Errorf("Export() with failing messages error = %v", err)
	}
	if len(env.sink.names) != 0 {
		t.Errorf("failed export wrote %v", env.sink.names)
	}
}

func TestService_ExportBusy(t *testing.T) {
	client := fixture()
	client.gate = make(chan struct{})
	client.started = make(chan struct{})
	env := newEnv(t, client, 500)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := env.svc.Export(ctx, chatA, models.FormatFullJSON)
		done <- err
	}()
	<-client.started

	if _, err := env.svc.Export(ctx, chatA, models.FormatPlainText); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Export() error = %v, want ErrBusy", err)
	}

	close(client.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Export() error = %v", err)
	}

	if _, err := env.svc.Export(ctx, chatA, models.FormatPlainText); err != nil {
		t.Errorf("Export() after release error = %v", err)
	}
}

func TestService_DownloadImages(t *testing.T) {
	client := fixture()
	client.messages[chatA] = append(client.messages[chatA], generated("m4", 4*time.Minute, "https://cdn.example/broken.png"))
	env := newEnv(t, client, 500)
	ctx := context.Background()

	results, sum, err := env.svc.DownloadImages(ctx, chatA, t.TempDir(), DownloadOptions{ExcludePortraits: true})
	if err != nil {
		t.Fatalf("DownloadImages() error = %v", err)
	}
	if len(env.saver.got) != 2 {
		t.Fatalf("saver received %d records, want 2", len(env.saver.got))
	}
	for _, r := range env.saver.got {
		if r.IsPortrait() {
			t.Error("portrait passed to saver despite ExcludePortraits")
		}
	}
	if sum.Saved != 1 || sum.Failed != 1 || len(results) != 2 {
		t.Errorf("summary = %+v", sum)
	}

	_, _, err = env.svc.DownloadImages(ctx, chatA, t.TempDir(), DownloadOptions{Indices: []int{0}})
	if err != nil {
		t.Fatalf("DownloadImages(indices) error = %v", err)
	}
	if len(env.saver.got) != 1 || !env.saver.got[0].IsPortrait() {
		t.Errorf("saver received %+v, want the portrait", env.saver.got)
	}

	if _, _, err := env.svc.DownloadImages(ctx, chatA, t.TempDir(), DownloadOptions{Indices: []int{7}}); err == nil {
		t.Error("DownloadImages() with bad index succeeded")
	}
}

func TestService_ClearCache(t *testing.T) {
	client := fixture()
	env := newEnv(t, client, 500)
	ctx := context.Background()

	env.svc.ListChats(ctx)
	env.svc.ClearCache(ctx)
	env.svc.ListChats(ctx)
	if client.chatCalls != 2 {
		t.Errorf("chat requests = %d, want 2 after ClearCache", client.chatCalls)
	}
}
