package library

// voiceCatalog groups the available synthesis voices by language. The
// keys mirror what the synthesis tool ships; the voice id encodes
// language and gender (af = American English female, bm = British
// English male, and so on).
var voiceCatalog = map[string][]string{
	"American English": {
		"af_alloy", "af_aoede", "af_bella", "af_heart", "af_jessica",
		"af_kore", "af_nicole", "af_nova", "af_river", "af_sarah",
		"af_sky", "am_adam", "am_echo", "am_eric", "am_fenrir",
		"am_liam", "am_michael", "am_onyx", "am_puck", "am_santa",
	},
	"British English": {
		"bf_alice", "bf_emma", "bf_isabella", "bf_lily",
		"bm_daniel", "bm_fable", "bm_george", "bm_lewis",
	},
	"Spanish": {"ef_dora", "em_alex", "em_santa"},
	"French":  {"ff_siwis"},
	"Hindi":   {"hf_alpha", "hf_beta", "hm_omega", "hm_psi"},
	"Italian": {"if_sara", "im_nicola"},
	"Japanese": {
		"jf_alpha", "jf_gongitsune", "jf_nezumi", "jf_tebukuro", "jm_kumo",
	},
	"Brazilian Portuguese": {"pf_dora", "pm_alex", "pm_santa"},
	"Mandarin Chinese": {
		"zf_xiaobei", "zf_xiaoni", "zf_xiaoxiao", "zf_xiaoyi",
		"zm_yunjian", "zm_yunxi", "zm_yunxia", "zm_yunyang",
	},
}

// Voices returns the available voices grouped by language
func Voices() map[string][]string {
	out := make(map[string][]string, len(voiceCatalog))
	for lang, voices := range voiceCatalog {
		out[lang] = append([]string(nil), voices...)
	}
	return out
}

// KnownVoice reports whether a voice id exists in the catalog
func KnownVoice(id string) bool {
	for _, voices := range voiceCatalog {
		for _, v := range voices {
			if v == id {
				return true
			}
		}
	}
	return false
}
