package storage

import "testing"

func TestPublicURL(t *testing.T) {
	c, err := NewClient(Config{
		Endpoint:      "localhost:9000",
		Access:        "minioadmin",
		Secret:        "minioadmin",
		Bucket:        "artworks",
		PublicBaseURL: "https://cdn.example.com/gallery/",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	got := c.PublicURL("artworks/user 1/a1.jpg")
	want := "https://cdn.example.com/gallery/artworks/user%201/a1.jpg"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestPublicURLDefaultsToEndpoint(t *testing.T) {
	c, err := NewClient(Config{
		Endpoint: "localhost:9000",
		Access:   "minioadmin",
		Secret:   "minioadmin",
		Bucket:   "artworks",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if got := c.PublicURL("a/b.png"); got != "http://localhost:9000/artworks/a/b.png" {
		t.Fatalf("unexpected public URL %s", got)
	}
}

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
