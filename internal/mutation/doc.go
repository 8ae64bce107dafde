// Package mutation tracks user interactions, network requests and route
// changes until the resources they caused have finished loading.
//
// Each tracked interaction is a pending Event with its own state machine:
//
//	Created -> Accumulating <-> Settling -> Complete
//	                                    \-> Aborted | Discarded
//
// While an event is Accumulating it waits for outstanding nodes (images,
// iframes, stylesheets and in-flight requests). When nothing is outstanding
// it Settles for a short idle period; an interesting mutation or a new
// request resumes accumulation, an uninteresting mutation extends the idle
// period once. When the settle timer fires the event completes and is handed
// to the sink.
//
// Conflicts between a new trigger and the latest pending event:
//
//	pending click without outstanding nodes or URL  any trigger  click discarded
//	pending click with outstanding nodes and URL    any trigger  both tracked
//	pending xhr                                     click        click ignored
//	pending xhr                                     xhr          folded into pending
//	pending xhr                                     spa          both tracked
//	pending spa                                     click        click ignored
//	pending spa                                     xhr          folded into pending
//	pending spa                                     spa          pending aborted
//
// A Handler is owned by the run loop and is not safe for concurrent use.
package mutation
