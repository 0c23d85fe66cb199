package router

import (
	_ "github.com/private-chat/shellcache/internal/strategy/cachefirst"
	_ "github.com/private-chat/shellcache/internal/strategy/networkscan"
	_ "github.com/private-chat/shellcache/internal/strategy/revalidate"
	_ "github.com/private-chat/shellcache/internal/strategy/shellfallback"
)
