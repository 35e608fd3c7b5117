package main

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/MrWong99/earshot/internal/config"
)

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        earshot: startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Audio", cfg.Audio.Backend, fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printRow(w, "Wake word", cfg.Wakeword.Provider, cfg.Wakeword.Keyword)
	printRow(w, "VAD", cfg.Wakeword.VAD, "")
	printRow(w, "STT", cfg.STT.Provider, cfg.STT.Language)
	printRow(w, "LLM", cfg.LLM.Provider, cfg.LLM.Model)
	printRow(w, "TTS", cfg.TTS.Provider, fmt.Sprintf("speaker %d", cfg.TTS.SpeakerID))
	listen := cfg.Server.ListenAddr
	if listen == "-" {
		listen = "(disabled)"
	}
	printRow(w, "Health", listen, "")
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if utf8.RuneCountInString(value) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}
