// Package dom is a minimal document model used to observe page changes.
//
// Nodes carry only what resource tracking needs: tag, attributes, computed
// display, rendered size, a load-complete flag and load/error listeners.
// A Document records childList, attribute and characterData mutations on
// attached nodes and delivers them in batches to observers, the way a
// MutationObserver does.
package dom
