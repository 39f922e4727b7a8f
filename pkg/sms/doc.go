// Package sms delivers text and multimedia messages to phones by emailing
// wireless carrier gateway addresses such as 5551234567@vtext.com.
package sms
