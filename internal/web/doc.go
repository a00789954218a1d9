// Package web is the browser and HTTP surface of alarmd: the alarm form,
// a small JSON API, an iCalendar export of pending alarms and a websocket
// hub that pushes toasts and notifications to open pages.
package web
