// Package crawler builds the cassette catalog from the upstream blog.
//
// Two crawls run concurrently under one fetch bound: the category menu fans
// out to every category page to collect subcategories, and the paginated
// post feed is walked until an empty page. Classification runs once both
// complete.
package crawler
