package main

import (
	"testing"

	"easel/internal/session"
)

func TestSessionShowWithoutSession(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"session", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("session show: %v", err)
	}
	requireContains(t, out, "No active session")
}

func TestSessionShowRendersVariations(t *testing.T) {
	env := setupCLITestEnv(t)

	tracker := session.NewTracker(env.cfg)
	if _, err := tracker.StartSession(2, "sess-77"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := tracker.AddVariation("hero", 0, ""); err != nil {
		t.Fatalf("add hero: %v", err)
	}
	if err := tracker.AddVariation("section-image-1", 1, ""); err != nil {
		t.Fatalf("add section: %v", err)
	}
	if err := tracker.MarkVariationCompleted("hero", "hero.png"); err != nil {
		t.Fatalf("complete hero: %v", err)
	}

	out, _, err := runCLI(t, []string{"session", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("session show: %v", err)
	}
	requireContains(t, out, "sess-77")
	requireContains(t, out, "Hero")
	requireContains(t, out, "Section Image 1")
	requireContains(t, out, "hero.png")
}

func TestSessionClear(t *testing.T) {
	env := setupCLITestEnv(t)

	tracker := session.NewTracker(env.cfg)
	if _, err := tracker.StartSession(1, "sess-1"); err != nil {
		t.Fatalf("start session: %v", err)
	}

	out, _, err := runCLI(t, []string{"session", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("session clear: %v", err)
	}
	requireContains(t, out, "Session cleared")

	out, _, err = runCLI(t, []string{"session", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("session show after clear: %v", err)
	}
	requireContains(t, out, "No active session")
}
