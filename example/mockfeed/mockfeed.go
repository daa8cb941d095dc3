// Package mockfeed serves feeds whose content changes over time, for the
// feedcast demo and CLI walkthrough.
//
// Routes:
//
//	/news.json         list of articles, newest first; a new one every 15-40s
//	/rss.xml           the same articles as an RSS 2.0 document
//	/weather?city=...  current conditions; the temperature drifts on every request
package mockfeed

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

const maxArticles = 5

type article struct {
	Title   string `json:"title" xml:"title"`
	GUID    string `json:"guid" xml:"guid"`
	PubDate string `json:"pubDate" xml:"pubDate"`
}

type feed struct {
	mu        sync.Mutex
	articles  []article
	seq       int
	nextAt    time.Time
	temps     map[string]float64
	headlines []string
}

// Handler returns the mock feed routes.
func Handler() http.Handler {
	f := &feed{
		temps: make(map[string]float64),
		headlines: []string{
			"Markets open higher",
			"Local team wins final",
			"Rain expected this weekend",
			"New library opens downtown",
			"Transit fares to rise",
		},
	}
	f.publish(time.Now())

	mux := http.NewServeMux()
	mux.HandleFunc("/news.json", f.handleNews)
	mux.HandleFunc("/rss.xml", f.handleRSS)
	mux.HandleFunc("/weather", f.handleWeather)
	return mux
}

// ListenAndServe serves [Handler] on addr.
func ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

// publish must be called with f.mu held, or before the handler is shared.
func (f *feed) publish(now time.Time) {
	f.seq++
	a := article{
		Title:   f.headlines[f.seq%len(f.headlines)],
		GUID:    fmt.Sprintf("article-%d", f.seq),
		PubDate: now.UTC().Format(time.RFC1123Z),
	}
	f.articles = append([]article{a}, f.articles...)
	if len(f.articles) > maxArticles {
		f.articles = f.articles[:maxArticles]
	}
	f.nextAt = now.Add(time.Duration(15+rand.Intn(26)) * time.Second)
	slog.Info("article published", "guid", a.GUID, "title", a.Title)
}

func (f *feed) current() []article {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	if now.After(f.nextAt) {
		f.publish(now)
	}
	return append([]article(nil), f.articles...)
}

func (f *feed) handleNews(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(f.current()); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (f *feed) handleRSS(w http.ResponseWriter, r *http.Request) {
	doc := struct {
		XMLName xml.Name `xml:"rss"`
		Version string   `xml:"version,attr"`
		Channel struct {
			Title string    `xml:"title"`
			Items []article `xml:"item"`
		} `xml:"channel"`
	}{Version: "2.0"}
	doc.Channel.Title = "Mock News"
	doc.Channel.Items = f.current()

	w.Header().Set("Content-Type", "application/rss+xml")
	_, _ = w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(doc); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (f *feed) handleWeather(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		http.Error(w, "city is required", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	temp, ok := f.temps[city]
	if !ok {
		temp = float64(5 + rand.Intn(20))
	}
	// random walk in half-degree steps
	temp += float64(rand.Intn(3)-1) * 0.5
	f.temps[city] = temp
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"city": city,
		"current": map[string]any{
			"temp_c": temp,
		},
	})
}
