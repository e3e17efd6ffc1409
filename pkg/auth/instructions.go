package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowAPIKeyGuide writes the steps for obtaining Google Custom Search access
func ShowAPIKeyGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "GOOGLE CUSTOM SEARCH SETUP")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The google engine uses the Custom Search JSON API and needs two values.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 1: Create a search engine")
	fmt.Fprintln(w, "   - Open https://programmablesearchengine.google.com/")
	fmt.Fprintln(w, "   - Create an engine that searches the entire web")
	fmt.Fprintln(w, "   - Turn on \"Image search\"")
	fmt.Fprintln(w, "   - Copy the Search engine ID (cx)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 2: Create an API key")
	fmt.Fprintln(w, "   - Open https://console.cloud.google.com/apis/credentials")
	fmt.Fprintln(w, "   - Enable the Custom Search API for your project")
	fmt.Fprintln(w, "   - Create an API key and copy it")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The free tier allows 100 queries per day; each query returns 10 images.")
	fmt.Fprintln(w, "Keys can also come from IMGHARVEST_GOOGLE_API_KEY and IMGHARVEST_GOOGLE_CX.")
	fmt.Fprintln(w, rule)
}
