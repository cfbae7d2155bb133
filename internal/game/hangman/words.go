package hangman

import "math/rand"

type entry struct {
	word string
	hint string
}

var words = []entry{
	{"ELEPHANT", "Largest land animal"},
	{"GUITAR", "Six-stringed instrument"},
	{"VOLCANO", "Mountain that erupts"},
	{"LIBRARY", "Place full of books"},
	{"BICYCLE", "Two wheels, no engine"},
	{"PENGUIN", "Flightless bird of the Antarctic"},
	{"RAINBOW", "Arc of colors after rain"},
	{"COMPASS", "Points to the north"},
	{"LANTERN", "Portable light"},
	{"OCTOPUS", "Eight-armed sea creature"},
	{"GLACIER", "Slow-moving river of ice"},
	{"HARVEST", "Gathering of ripe crops"},
	{"JOURNEY", "A long trip"},
	{"MIRROR", "Shows your reflection"},
	{"ANCHOR", "Keeps a ship in place"},
	{"CASTLE", "Fortified medieval home"},
	{"DESERT", "Dry, sandy landscape"},
	{"FOREST", "Land covered in trees"},
	{"ISLAND", "Land surrounded by water"},
	{"PUZZLE", "Pieces that fit together"},
	{"ROCKET", "Flies to space"},
	{"THUNDER", "Sound that follows lightning"},
	{"WHISPER", "Very quiet speech"},
	{"BLANKET", "Keeps you warm at night"},
}

func pickWord(seed int64) (string, string) {
	e := words[rand.New(rand.NewSource(seed)).Intn(len(words))]
	return e.word, e.hint
}
