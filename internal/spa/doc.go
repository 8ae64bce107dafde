// Package spa measures single-page-app navigations.
//
// The first route change of a page is a hard navigation: it starts at the
// browser's navigationStart and waits for page_ready. Every later route
// change is a soft navigation starting when the route changed. Both are
// tracked as pending mutation events; when one completes the coordinator
// splits its duration into back-end time (t_resp) and front-end time
// (t_page) and fires spa_navigation.
package spa
