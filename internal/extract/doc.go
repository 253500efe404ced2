// Package extract turns upstream pages into catalog records.
//
// Front and category pages are HTML and are walked with goquery. The post
// feed is Blogger JSON, decoded into a typed Document once per page.
// Page-level failures are returned as errors; entry-level failures are
// returned per entry so the caller can skip the entry and continue.
package extract
